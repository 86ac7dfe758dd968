package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
	"go.uber.org/zap"
)

// KindStore adapts the shared DB to one data kind's record type. It satisfies
// the cache's RecordStore contract.
type KindStore[R types.Record] struct {
	db   *DB
	kind types.DataKind
}

// ForKind binds a record type to the shared database.
func ForKind[R types.Record](db *DB, kind types.DataKind) *KindStore[R] {
	return &KindStore[R]{db: db, kind: kind}
}

// LoadExtent returns the persisted records for [start, end) and true only
// when previously-saved extents fully cover the range. A partially-covered
// range reports false so the caller falls back to the network; returning a
// short read here would poison the coverage index.
func (s *KindStore[R]) LoadExtent(ctx context.Context, symbol, subKey string, start, end time.Time) ([]R, bool, error) {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()

	covered, err := s.covers(ctx, symbol, subKey, startMs, endMs)
	if err != nil {
		return nil, false, err
	}

	if !covered {
		return nil, false, nil
	}

	query, args, err := sq.Select("payload").
		From("records").
		Where(sq.Eq{"kind": string(s.kind), "symbol": symbol, "sub_key": subKey}).
		Where(sq.GtOrEq{"ts": startMs}).
		Where(sq.Lt{"ts": endMs}).
		OrderBy("ts").
		ToSql()
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to build query", err)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to read records", err)
	}

	defer rows.Close()

	var records []R

	for rows.Next() {
		var payload string

		if err := rows.Scan(&payload); err != nil {
			return nil, false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to scan record", err)
		}

		var record R

		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to decode record", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to iterate records", err)
	}

	return records, true, nil
}

// SaveExtent persists a fetched extent. Records already stored in the range
// are replaced, so re-fetches never create duplicate timestamps.
func (s *KindStore[R]) SaveExtent(ctx context.Context, symbol, subKey string, start, end time.Time, records []R) error {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	// Rollback after a successful commit is a no-op reporting ErrTxDone.
	defer func() { _ = tx.Rollback() }()

	del, delArgs, err := sq.Delete("records").
		Where(sq.Eq{"kind": string(s.kind), "symbol": symbol, "sub_key": subKey}).
		Where(sq.GtOrEq{"ts": startMs}).
		Where(sq.Lt{"ts": endMs}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to build delete", err)
	}

	if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to clear range", err)
	}

	insert := sq.Insert("records").Columns("kind", "symbol", "sub_key", "ts", "payload")

	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to encode record", err)
		}

		insert = insert.Values(string(s.kind), symbol, subKey, record.RecordTime().UnixMilli(), string(payload))
	}

	if len(records) > 0 {
		query, args, err := insert.ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to build insert", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert records", err)
		}
	}

	ext, extArgs, err := sq.Insert("extents").
		Columns("kind", "symbol", "sub_key", "range_start", "range_end").
		Values(string(s.kind), symbol, subKey, startMs, endMs).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to build extent insert", err)
	}

	if _, err := tx.ExecContext(ctx, ext, extArgs...); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to record extent", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit", err)
	}

	s.db.log.Debug("extent persisted",
		zap.String("kind", string(s.kind)),
		zap.String("symbol", symbol),
		zap.String("sub_key", subKey),
		zap.Int("records", len(records)),
	)

	return nil
}

// covers reports whether saved extents fully cover [startMs, endMs).
func (s *KindStore[R]) covers(ctx context.Context, symbol, subKey string, startMs, endMs int64) (bool, error) {
	query, args, err := sq.Select("range_start", "range_end").
		From("extents").
		Where(sq.Eq{"kind": string(s.kind), "symbol": symbol, "sub_key": subKey}).
		Where(sq.Lt{"range_start": endMs}).
		Where(sq.Gt{"range_end": startMs}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to build extent query", err)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to read extents", err)
	}

	defer rows.Close()

	type span struct{ start, end int64 }

	var spans []span

	for rows.Next() {
		var sp span

		if err := rows.Scan(&sp.start, &sp.end); err != nil {
			return false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to scan extent", err)
		}

		spans = append(spans, sp)
	}

	if err := rows.Err(); err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to iterate extents", err)
	}

	if len(spans) == 0 {
		return false, nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	cursor := startMs

	for _, sp := range spans {
		if sp.start > cursor {
			return false, nil
		}

		if sp.end > cursor {
			cursor = sp.end
		}

		if cursor >= endMs {
			return true, nil
		}
	}

	return cursor >= endMs, nil
}
