package features

import (
	"math"

	"github.com/andresuchdata/controltower/internal/stats"
)

// series is one product's measure ordered by period. Every trailing helper
// reads the window ending at i-shift, so shift >= 1 never sees period i.
type series []float64

// at returns xs[i] or nil when i is outside the series.
func (xs series) at(i int) *float64 {
	if i < 0 || i >= len(xs) {
		return nil
	}
	return stats.Ptr(xs[i])
}

// lag is the value k periods before i.
func (xs series) lag(i, k int) *float64 {
	return xs.at(i - k)
}

// window returns up to size values ending at i-shift.
func (xs series) window(i, shift, size int) []float64 {
	end := i - shift
	if end < 0 {
		return nil
	}
	start := end - size + 1
	if start < 0 {
		start = 0
	}
	return xs[start : end+1]
}

func (xs series) mean(i, shift, size int) *float64 {
	w := xs.window(i, shift, size)
	if len(w) == 0 {
		return nil
	}
	return stats.Ptr(stats.Mean(w))
}

func (xs series) sum(i, shift, size int) *float64 {
	w := xs.window(i, shift, size)
	if len(w) == 0 {
		return nil
	}
	return stats.Ptr(stats.Sum(w))
}

// std needs at least two observations in the window.
func (xs series) std(i, shift, size int) *float64 {
	sd, ok := stats.SampleStd(xs.window(i, shift, size))
	if !ok {
		return nil
	}
	return stats.Ptr(sd)
}

func (xs series) max(i, shift, size int) *float64 {
	w := xs.window(i, shift, size)
	if len(w) == 0 {
		return nil
	}
	return stats.Ptr(stats.Max(w))
}

func (xs series) min(i, shift, size int) *float64 {
	w := xs.window(i, shift, size)
	if len(w) == 0 {
		return nil
	}
	return stats.Ptr(stats.Min(w))
}

// nonzero counts positive values in the window. Positions before the first
// period count as zero, so the result is never nil.
func (xs series) nonzero(i, shift, size int) *float64 {
	n := 0
	for _, v := range xs.window(i, shift, size) {
		if v > 0 {
			n++
		}
	}
	return stats.Ptr(float64(n))
}

// ahead sums the next n periods after i; nil unless all n exist.
func (xs series) ahead(i, n int) *float64 {
	if i+n >= len(xs) {
		return nil
	}
	total := 0.0
	for k := 1; k <= n; k++ {
		total += xs[i+k]
	}
	return stats.Ptr(total)
}

// roc is (cur-base)/base, 0 when the base is missing or not positive.
func roc(cur, base *float64) *float64 {
	if base == nil || *base <= 0 {
		return stats.Ptr(0)
	}
	if cur == nil {
		return nil
	}
	return stats.Ptr((*cur - *base) / *base)
}

func sub(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	return stats.Ptr(*a - *b)
}

// ratio is num/den when den > 0, otherwise fallback.
func ratio(num, den, fallback *float64) *float64 {
	if den == nil || *den <= 0 {
		return fallback
	}
	if num == nil {
		return nil
	}
	return stats.Ptr(*num / *den)
}

// round6 rounds a feature for storage, mapping NaN and Inf to nil.
func round6(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	return stats.Ptr(stats.Round(*p, 6))
}
