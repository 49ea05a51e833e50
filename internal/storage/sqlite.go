package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutSeries(ctx context.Context, entityID string, t reminder.Type, recs []reminder.Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	key := reminder.Key(entityID, t)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return err
	}
	for i, r := range recs {
		series := ""
		if len(r.SeriesIDs) > 0 {
			b, err := json.Marshal(r.SeriesIDs)
			if err != nil {
				return err
			}
			series = string(b)
		}
		if r.Schema == 0 {
			r.Schema = reminder.SchemaVersion
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO records(id, key, entity_id, type, os_schedule_id, firing_at, status,
			                     series_ids, repeat_index, max_repeats, created_at, updated_at, pos, schema)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			r.ID, key, r.EntityID, string(r.Type), r.OSScheduleID,
			r.FiringTime.Format(time.RFC3339Nano), string(r.Status),
			nullStr(series), r.RepeatIndex, r.MaxRepeats,
			r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
			i, r.Schema,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetSeries(ctx context.Context, entityID string, t reminder.Type) ([]reminder.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, type, os_schedule_id, firing_at, status, series_ids,
		        repeat_index, max_repeats, created_at, updated_at, schema
		 FROM records WHERE key = ? ORDER BY pos`,
		reminder.Key(entityID, t),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *sqliteStore) ListActive(ctx context.Context) ([]reminder.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, type, os_schedule_id, firing_at, status, series_ids,
		        repeat_index, max_repeats, created_at, updated_at, schema
		 FROM records WHERE status = ? ORDER BY key, pos`,
		string(reminder.StatusScheduled),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *sqliteStore) Compact(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE status != ?`, string(reminder.StatusScheduled))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) PutGuard(ctx context.Context, entityID string, t reminder.Type, lastSentAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guards(key, entity_id, type, last_sent_ms) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET last_sent_ms=excluded.last_sent_ms`,
		reminder.Key(entityID, t), entityID, string(t), lastSentAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetGuard(ctx context.Context, entityID string, t reminder.Type) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT last_sent_ms FROM guards WHERE key = ?`,
		reminder.Key(entityID, t)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) AppendEvent(ctx context.Context, ev reminder.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if ev.Schema == 0 {
		ev.Schema = reminder.SchemaVersion
	}
	fg := 0
	if ev.Foreground {
		fg = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, type, reminder_type, entity_id, action_id, at_ms, hour, dow, foreground, schema)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, string(ev.Type), string(ev.ReminderType), ev.EntityID,
		nullStr(ev.ActionID), ev.At.UnixMilli(), ev.HourOfDay, ev.DayOfWeek, fg, ev.Schema,
	)
	return err
}

func (s *sqliteStore) ListEvents(ctx context.Context, since time.Time) ([]reminder.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var ms int64
	if !since.IsZero() {
		ms = since.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, reminder_type, entity_id, action_id, at_ms, hour, dow, foreground, schema
		 FROM events WHERE at_ms >= ? ORDER BY seq`, ms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Event
	for rows.Next() {
		var ev reminder.Event
		var typ, rtyp string
		var action sql.NullString
		var atMS int64
		var fg int
		if err := rows.Scan(&ev.ID, &typ, &rtyp, &ev.EntityID, &action, &atMS,
			&ev.HourOfDay, &ev.DayOfWeek, &fg, &ev.Schema); err != nil {
			return nil, err
		}
		ev.Type = reminder.EventType(typ)
		ev.ReminderType = reminder.Type(rtyp)
		ev.ActionID = action.String
		ev.At = time.UnixMilli(atMS)
		ev.Foreground = fg != 0
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) GetAggregate(ctx context.Context) (reminder.Aggregate, bool, error) {
	if s == nil || s.db == nil {
		return reminder.Aggregate{}, false, ErrDisabled
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM aggregate WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Aggregate{}, false, nil
	}
	if err != nil {
		return reminder.Aggregate{}, false, err
	}
	var agg reminder.Aggregate
	if err := json.Unmarshal([]byte(payload), &agg); err != nil {
		return reminder.Aggregate{}, false, err
	}
	return agg, true, nil
}

func (s *sqliteStore) PutAggregate(ctx context.Context, agg reminder.Aggregate) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO aggregate(id, payload) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`,
		string(b),
	)
	return err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]reminder.Record, error) {
	var out []reminder.Record
	for rows.Next() {
		var r reminder.Record
		var typ, status, firing, created, updated string
		var series sql.NullString
		if err := rows.Scan(&r.ID, &r.EntityID, &typ, &r.OSScheduleID, &firing, &status,
			&series, &r.RepeatIndex, &r.MaxRepeats, &created, &updated, &r.Schema); err != nil {
			return nil, err
		}
		r.Type = reminder.Type(typ)
		r.Status = reminder.Status(status)
		var err error
		if r.FiringTime, err = time.Parse(time.RFC3339Nano, firing); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, err
		}
		if series.Valid && series.String != "" {
			if err := json.Unmarshal([]byte(series.String), &r.SeriesIDs); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
