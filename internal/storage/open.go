package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

// Store is the persistence API used by policies, coordinator, validator,
// sweeps and the event log.
//
// PutSeries replaces the whole list stored under (entityID, type); callers
// load, mutate, and write back. ListActive spans every key.
type Store interface {
	PutSeries(ctx context.Context, entityID string, t reminder.Type, recs []reminder.Record) error
	GetSeries(ctx context.Context, entityID string, t reminder.Type) ([]reminder.Record, error)
	ListActive(ctx context.Context) ([]reminder.Record, error)

	// Compact drops records that left the Scheduled state. This is the only
	// path that ever destroys a record.
	Compact(ctx context.Context) (removed int, err error)

	PutGuard(ctx context.Context, entityID string, t reminder.Type, lastSentAt time.Time) error
	GetGuard(ctx context.Context, entityID string, t reminder.Type) (time.Time, bool, error)

	AppendEvent(ctx context.Context, ev reminder.Event) error
	ListEvents(ctx context.Context, since time.Time) ([]reminder.Event, error)
	PruneEvents(ctx context.Context, before time.Time) (removed int, err error)

	GetAggregate(ctx context.Context) (reminder.Aggregate, bool, error)
	PutAggregate(ctx context.Context, agg reminder.Aggregate) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bbolt", "bolt":
		return openBolt(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
