package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/repository/postgres"
	"github.com/andresuchdata/controltower/pkg/logger"
	"github.com/urfave/cli/v2"
)

// seedTable loads <dir>/<table>.csv into one source table.
type seedTable struct {
	table string
	load  func(ctx context.Context, store *postgres.Store, r io.Reader) (int, error)
}

var seedTables = []seedTable{
	{"product_master", seedWith((*postgres.Store).SaveProducts)},
	{"supplier", seedWith((*postgres.Store).SaveSuppliers)},
	{"bom", seedWith((*postgres.Store).SaveBOM)},
	{"daily_order", seedWith((*postgres.Store).InsertOrders)},
	{"daily_revenue", seedWith((*postgres.Store).InsertRevenues)},
	{"daily_production", seedWith((*postgres.Store).InsertProductions)},
	{"inventory", seedWith((*postgres.Store).InsertInventorySnapshots)},
	{"purchase_order", seedWith((*postgres.Store).InsertPurchaseOrders)},
}

func seedWith[T any](save func(*postgres.Store, context.Context, []T) (int, error)) func(context.Context, *postgres.Store, io.Reader) (int, error) {
	return func(ctx context.Context, store *postgres.Store, r io.Reader) (int, error) {
		rows, err := decodeCSV[T](r)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, nil
		}
		return save(store, ctx, rows)
	}
}

func seed(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := c.Context
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	dir := c.String("data-dir")
	logger.Log.Info().Str("dir", dir).Msg("Starting database seeding...")
	for _, t := range seedTables {
		path := filepath.Join(dir, t.table+".csv")
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			logger.Log.Debug().Str("file", path).Msg("no seed file, skipping")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", path, err)
		}

		n, err := t.load(ctx, a.store, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", t.table, err)
		}
		logger.Log.Info().Str("table", t.table).Int("rows", n).Msg("seeded")
	}
	logger.Log.Info().Msg("Database seeding completed")
	return nil
}

// decodeCSV maps header columns onto the db tags of T. Unknown columns are
// ignored and empty cells leave the field at its zero value.
func decodeCSV[T any](r io.Reader) ([]T, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var zero T
	typ := reflect.TypeOf(zero)
	fields := make(map[string][]int)
	for _, f := range reflect.VisibleFields(typ) {
		if tag := strings.Split(f.Tag.Get("db"), ",")[0]; tag != "" && tag != "-" {
			fields[tag] = f.Index
		}
	}
	index := make([][]int, len(header))
	for i, col := range header {
		index[i] = fields[strings.ToLower(strings.TrimSpace(col))]
	}

	var out []T
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		var row T
		v := reflect.ValueOf(&row).Elem()
		for i, cell := range record {
			if i >= len(index) || index[i] == nil {
				continue
			}
			if err := setCell(v.FieldByIndex(index[i]), strings.TrimSpace(cell)); err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

var timeType = reflect.TypeOf(time.Time{})

func setCell(field reflect.Value, cell string) error {
	if cell == "" {
		return nil
	}
	if field.Kind() == reflect.Ptr {
		ptr := reflect.New(field.Type().Elem())
		if err := setCell(ptr.Elem(), cell); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	switch {
	case field.Type() == timeType:
		t, err := parseDate(cell)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
	case field.Kind() == reflect.String:
		field.SetString(cell)
	case field.Kind() == reflect.Float64:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case field.Kind() == reflect.Int, field.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// parseDate accepts ISO dates and the compact YYYYMMDD form used by exports.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{dateLayout, "20060102", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
