package postgres

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store is the pipeline's access layer over the shared tables: paged reads,
// batched upserts keyed by natural key, and latest-snapshot queries.
type Store struct {
	db    *DB
	io    config.PipelineConfig
	sleep func(context.Context, time.Duration) error
}

func NewStore(db *DB, io config.PipelineConfig) *Store {
	if io.BatchSize <= 0 {
		io.BatchSize = 500
	}
	if io.PageSize <= 0 {
		io.PageSize = 1000
	}
	if io.MaxRetries <= 0 {
		io.MaxRetries = 1
	}
	return &Store{db: db, io: io, sleep: sleepCtx}
}

// DB exposes the underlying pool for callers that run their own queries.
func (s *Store) DB() *DB {
	return s.db
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// MaxRetries attempts are spent. Attempt n waits n*RetryBackoff first.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.io.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * s.io.RetryBackoff
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("transient store error, retrying")
			if serr := s.sleep(ctx, wait); serr != nil {
				return serr
			}
		}
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
	}
	return errors.Wrapf(err, "%s: retries exhausted", op)
}

// columnsOf lists the db-tagged columns of struct type T, flattening embedded structs.
func columnsOf(t reflect.Type) []string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var cols []string
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("db"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		cols = append(cols, tag)
	}
	return cols
}

func columns[T any]() []string {
	var zero T
	return columnsOf(reflect.TypeOf(zero))
}

// query describes a paged read.
type query struct {
	table   string
	where   string
	args    []any
	orderBy string
}

// fetchAll reads every row of q page by page, stopping on a short page.
// A missing table reads as empty.
func fetchAll[T any](ctx context.Context, s *Store, q query) ([]T, error) {
	cols := strings.Join(columns[T](), ", ")
	base := fmt.Sprintf("SELECT %s FROM %s", cols, q.table)
	if q.where != "" {
		base += " WHERE " + q.where
	}
	base += " ORDER BY " + q.orderBy + " LIMIT ? OFFSET ?"
	stmt := s.db.Rebind(base)

	var all []T
	for offset := 0; ; offset += s.io.PageSize {
		var page []T
		args := append(append([]any{}, q.args...), s.io.PageSize, offset)
		err := s.retry(ctx, "read "+q.table, func() error {
			page = page[:0]
			return sqlx.SelectContext(ctx, s.db, &page, stmt, args...)
		})
		if err != nil {
			if IsMissingTable(err) {
				log.Warn().Str("table", q.table).Msg("table missing, continuing with empty dataset")
				return nil, nil
			}
			return nil, errors.Wrapf(err, "read %s", q.table)
		}
		all = append(all, page...)
		if len(page) < s.io.PageSize {
			break
		}
	}

	return all, nil
}

// fetchLatest reads, for every partition key, the rows carrying the maximum
// value of dateCol. The correlated form keeps column types visible to the driver.
func fetchLatest[T any](ctx context.Context, s *Store, table string, partition []string, dateCol, where string, args ...any) ([]T, error) {
	conds := make([]string, len(partition))
	for i, k := range partition {
		conds[i] = fmt.Sprintf("s.%s = t.%s", k, k)
	}
	inner := fmt.Sprintf("SELECT MAX(s.%s) FROM %s s", dateCol, table)
	filter := strings.Join(conds, " AND ")
	if where != "" {
		// the filter applies to both sides so the max is taken within it
		filter = joinAnd(filter, prefixed(where, "s."))
	}
	if filter != "" {
		inner += " WHERE " + filter
	}

	outer := fmt.Sprintf("t.%s = (%s)", dateCol, inner)
	if where != "" {
		outer = joinAnd(prefixed(where, "t."), outer)
	}

	tcols := columns[T]()
	qualified := make([]string, len(tcols))
	for i, c := range tcols {
		qualified[i] = "t." + c
	}
	order := strings.Join(append(append([]string{}, partition...), dateCol), ", t.")

	stmt := s.db.Rebind(fmt.Sprintf("SELECT %s FROM %s t WHERE %s ORDER BY t.%s",
		strings.Join(qualified, ", "), table, outer, order))
	// where placeholders appear twice: once in the outer filter, once in the subquery
	fullArgs := append(append([]any{}, args...), args...)

	var rows []T
	err := s.retry(ctx, "read latest "+table, func() error {
		rows = rows[:0]
		return sqlx.SelectContext(ctx, s.db, &rows, stmt, fullArgs...)
	})
	if err != nil {
		if IsMissingTable(err) {
			log.Warn().Str("table", table).Msg("table missing, continuing with empty dataset")
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read latest %s", table)
	}

	return rows, nil
}

// prefixed qualifies bare column names in a simple "col op ?" conjunction.
func prefixed(where, alias string) string {
	parts := strings.Split(where, " AND ")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, " AND ")
}

func joinAnd(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " AND " + b
}

// upsert writes rows in BatchSize chunks, each in its own transaction, with
// ON CONFLICT (conflict) DO UPDATE. A nil conflict means plain insert.
func upsert[T any](ctx context.Context, s *Store, table string, conflict []string, rows []T) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	cols := columns[T]()
	stmt := buildUpsert(table, cols, conflict)

	written := 0
	for start := 0; start < len(rows); start += s.io.BatchSize {
		end := start + s.io.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		err := s.retry(ctx, "write "+table, func() error {
			return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
				return writeRows(ctx, tx, table, stmt, batch)
			})
		})
		if err != nil {
			return written, err
		}
		written += len(batch)

		if end < len(rows) {
			if err := s.sleep(ctx, s.io.BatchDelay); err != nil {
				return written, err
			}
		}
	}

	log.Debug().Str("table", table).Int("rows", written).Msg("batch write complete")
	return written, nil
}

// writeRows executes stmt once per row inside tx.
func writeRows[T any](ctx context.Context, tx *sqlx.Tx, table, stmt string, rows []T) error {
	ps, err := tx.PrepareNamedContext(ctx, stmt)
	if err != nil {
		return errors.Wrapf(err, "prepare %s", table)
	}
	defer ps.Close()

	for i := range rows {
		if _, err := ps.ExecContext(ctx, rows[i]); err != nil {
			return errors.Wrapf(err, "write %s", table)
		}
	}
	return nil
}

func buildUpsert(table string, cols, conflict []string) string {
	named := make([]string, len(cols))
	for i, c := range cols {
		named[i] = ":" + c
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(named, ", "))
	if len(conflict) == 0 {
		return q
	}

	isKey := make(map[string]bool, len(conflict))
	for _, k := range conflict {
		isKey[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	if len(sets) == 0 {
		return q + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", "))
	}

	return q + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(conflict, ", "), strings.Join(sets, ", "))
}

// exec runs a single statement with retry.
func (s *Store) exec(ctx context.Context, op, stmt string, args ...any) (int64, error) {
	var affected int64
	err := s.retry(ctx, op, func() error {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(stmt), args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, op)
	}
	return affected, nil
}
