package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.jsonl        (append-only JSON Lines)
//   - <prefix>.state.snapshot.json (records + guards + aggregate)
//
// The snapshot is rewritten atomically on every state mutation; the event log
// is only rewritten by PruneEvents.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	eventsPath   string
	eventsFile   *os.File

	state fileState
}

type fileState struct {
	Schema    int                            `json:"schema"`
	Series    map[string][]reminder.Record   `json:"series"`
	Guards    map[string]int64               `json:"guards"` // unix milli
	Aggregate *reminder.Aggregate            `json:"aggregate,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".state.snapshot.json",
		eventsPath:   prefix + ".events.jsonl",
		state: fileState{
			Schema: reminder.SchemaVersion,
			Series: map[string][]reminder.Record{},
			Guards: map[string]int64{},
		},
	}
	_ = s.loadSnapshot()

	ef, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.eventsFile = ef
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile != nil {
		err := s.eventsFile.Close()
		s.eventsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	if st.Series == nil {
		st.Series = map[string][]reminder.Record{}
	}
	if st.Guards == nil {
		st.Guards = map[string]int64{}
	}
	s.state = st
	return nil
}

func (s *fileStore) saveSnapshotLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *fileStore) PutSeries(ctx context.Context, entityID string, t reminder.Type, recs []reminder.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reminder.Key(entityID, t)
	if len(recs) == 0 {
		delete(s.state.Series, key)
	} else {
		cp := make([]reminder.Record, len(recs))
		copy(cp, recs)
		for i := range cp {
			if cp[i].Schema == 0 {
				cp[i].Schema = reminder.SchemaVersion
			}
		}
		s.state.Series[key] = cp
	}
	return s.saveSnapshotLocked()
}

func (s *fileStore) GetSeries(ctx context.Context, entityID string, t reminder.Type) ([]reminder.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.state.Series[reminder.Key(entityID, t)]
	cp := make([]reminder.Record, len(recs))
	copy(cp, recs)
	return cp, nil
}

func (s *fileStore) ListActive(ctx context.Context) ([]reminder.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Record
	for _, recs := range s.state.Series {
		for _, r := range recs {
			if r.Active() {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *fileStore) Compact(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, recs := range s.state.Series {
		kept := recs[:0]
		for _, r := range recs {
			if r.Active() {
				kept = append(kept, r)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.state.Series, k)
		} else {
			s.state.Series[k] = kept
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveSnapshotLocked()
}

func (s *fileStore) PutGuard(ctx context.Context, entityID string, t reminder.Type, lastSentAt time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Guards[reminder.Key(entityID, t)] = lastSentAt.UnixMilli()
	return s.saveSnapshotLocked()
}

func (s *fileStore) GetGuard(ctx context.Context, entityID string, t reminder.Type) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.state.Guards[reminder.Key(entityID, t)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) AppendEvent(ctx context.Context, ev reminder.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return errors.New("events file closed")
	}
	if ev.Schema == 0 {
		ev.Schema = reminder.SchemaVersion
	}
	return json.NewEncoder(s.eventsFile).Encode(ev)
}

func (s *fileStore) ListEvents(ctx context.Context, since time.Time) ([]reminder.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readEventsLocked(since)
}

func (s *fileStore) readEventsLocked(since time.Time) ([]reminder.Event, error) {
	f, err := os.Open(s.eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []reminder.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev reminder.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			// Skip torn writes; the log is append-only and best-effort.
			continue
		}
		if since.IsZero() || !ev.At.Before(since) {
			out = append(out, ev)
		}
	}
	return out, sc.Err()
}

func (s *fileStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readEventsLocked(time.Time{})
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	removed := 0
	for _, ev := range all {
		if ev.At.Before(before) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := s.eventsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, ev := range kept {
		if err := enc.Encode(ev); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if s.eventsFile != nil {
		_ = s.eventsFile.Close()
		s.eventsFile = nil
	}
	if err := os.Rename(tmp, s.eventsPath); err != nil {
		return 0, err
	}
	ef, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, err
	}
	s.eventsFile = ef
	return removed, nil
}

func (s *fileStore) GetAggregate(ctx context.Context) (reminder.Aggregate, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Aggregate == nil {
		return reminder.Aggregate{}, false, nil
	}
	return cloneAggregate(*s.state.Aggregate), true, nil
}

func (s *fileStore) PutAggregate(ctx context.Context, agg reminder.Aggregate) error {
	_ = ctx
	cp := cloneAggregate(agg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Aggregate = &cp
	return s.saveSnapshotLocked()
}
