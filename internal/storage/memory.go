package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"entryminder/internal/reminder"
)

// memStore is a volatile in-process store. It backs the "memory" driver and
// doubles as the test substitute, so its semantics must match the durable
// drivers exactly.
type memStore struct {
	mu     sync.Mutex
	series map[string][]reminder.Record
	guards map[string]time.Time
	events []reminder.Event
	agg    *reminder.Aggregate
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		series: map[string][]reminder.Record{},
		guards: map[string]time.Time{},
	}
}

func (s *memStore) PutSeries(ctx context.Context, entityID string, t reminder.Type, recs []reminder.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reminder.Key(entityID, t)
	if len(recs) == 0 {
		delete(s.series, key)
		return nil
	}
	cp := make([]reminder.Record, len(recs))
	copy(cp, recs)
	s.series[key] = cp
	return nil
}

func (s *memStore) GetSeries(ctx context.Context, entityID string, t reminder.Type) ([]reminder.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.series[reminder.Key(entityID, t)]
	cp := make([]reminder.Record, len(recs))
	copy(cp, recs)
	return cp, nil
}

func (s *memStore) ListActive(ctx context.Context) ([]reminder.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Record
	keys := make([]string, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, r := range s.series[k] {
			if r.Active() {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *memStore) Compact(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, recs := range s.series {
		kept := recs[:0]
		for _, r := range recs {
			if r.Active() {
				kept = append(kept, r)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.series, k)
		} else {
			s.series[k] = kept
		}
	}
	return removed, nil
}

func (s *memStore) PutGuard(ctx context.Context, entityID string, t reminder.Type, lastSentAt time.Time) error {
	_ = ctx
	s.mu.Lock()
	s.guards[reminder.Key(entityID, t)] = lastSentAt
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetGuard(ctx context.Context, entityID string, t reminder.Type) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	at, ok := s.guards[reminder.Key(entityID, t)]
	s.mu.Unlock()
	return at, ok, nil
}

func (s *memStore) AppendEvent(ctx context.Context, ev reminder.Event) error {
	_ = ctx
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListEvents(ctx context.Context, since time.Time) ([]reminder.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Event
	for _, ev := range s.events {
		if since.IsZero() || !ev.At.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	removed := 0
	for _, ev := range s.events {
		if ev.At.Before(before) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return removed, nil
}

func (s *memStore) GetAggregate(ctx context.Context) (reminder.Aggregate, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agg == nil {
		return reminder.Aggregate{}, false, nil
	}
	return cloneAggregate(*s.agg), true, nil
}

func (s *memStore) PutAggregate(ctx context.Context, agg reminder.Aggregate) error {
	_ = ctx
	cp := cloneAggregate(agg)
	s.mu.Lock()
	s.agg = &cp
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func cloneAggregate(a reminder.Aggregate) reminder.Aggregate {
	cp := a
	cp.PerType = make(map[reminder.Type]*reminder.TypeStats, len(a.PerType))
	for t, st := range a.PerType {
		c := *st
		cp.PerType[t] = &c
	}
	return cp
}
