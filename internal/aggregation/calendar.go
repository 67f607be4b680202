package aggregation

import (
	"fmt"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
)

// YearWeek formats the ISO year and week of t as "2006-W01".
func YearWeek(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// WeekStart returns the Monday of t's ISO week.
func WeekStart(t time.Time) time.Time {
	t = domain.DateOnly(t)
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// YearMonth formats t as "2006-01".
func YearMonth(t time.Time) string {
	return t.Format("2006-01")
}

// CalendarWeeks lists every ISO week from the week of from through the week
// of to. A week belongs to the month and quarter of its Thursday.
func CalendarWeeks(from, to time.Time) []domain.CalendarWeek {
	end := WeekStart(to)
	var weeks []domain.CalendarWeek
	for start := WeekStart(from); !start.After(end); start = start.AddDate(0, 0, 7) {
		y, w := start.ISOWeek()
		thursday := start.AddDate(0, 0, 3)
		weeks = append(weeks, domain.CalendarWeek{
			YearWeek:  YearWeek(start),
			Year:      y,
			WeekNum:   w,
			WeekStart: start,
			WeekEnd:   start.AddDate(0, 0, 6),
			YearMonth: YearMonth(thursday),
			Quarter:   (int(thursday.Month())-1)/3 + 1,
		})
	}
	return weeks
}
