package validator

import (
	"context"

	"entryminder/internal/eventbus"
	"entryminder/internal/osched"
	"entryminder/internal/reminder"
	"entryminder/internal/storage"
	logx "entryminder/pkg/logx"
)

// Inconsistency kinds.
const (
	// KindOrphanedStoredRecord: an active stored record whose OS schedule id
	// is missing from the live list. The OS silently dropped it (permissions
	// revoked, storage limit).
	KindOrphanedStoredRecord = "orphaned-stored-record"

	// KindUnknownOSEntry: the OS holds an entry the store doesn't know about.
	// Informational only; outside this validator's correctness contract.
	KindUnknownOSEntry = "unknown-os-entry"
)

type Inconsistency struct {
	Kind         string        `json:"kind"`
	EntityID     string        `json:"entity_id,omitempty"`
	ReminderType reminder.Type `json:"reminder_type,omitempty"`
	OSScheduleID string        `json:"os_schedule_id"`
}

type Report struct {
	IsConsistent    bool            `json:"is_consistent"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Informational   []Inconsistency `json:"informational,omitempty"`
}

// Validator reconciles the reminder store against the live OS schedule.
//
// It is a read-only diagnostic and never self-heals: blindly re-scheduling an
// orphan could duplicate user-visible reminders.
type Validator struct {
	store   storage.Store
	adapter osched.Adapter
	bus     eventbus.Bus
	log     logx.Logger
}

func New(st storage.Store, ad osched.Adapter, bus eventbus.Bus, log logx.Logger) *Validator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Validator{store: st, adapter: ad, bus: bus, log: log}
}

// Validate loads all active records and the full live OS list, then checks
// that every stored schedule id is still live.
func (v *Validator) Validate(ctx context.Context) (Report, error) {
	rep := Report{IsConsistent: true}

	active, err := v.store.ListActive(ctx)
	if err != nil {
		return rep, &reminder.StoreError{Op: "list active", Err: err}
	}
	live, err := v.adapter.ListScheduled(ctx)
	if err != nil {
		return rep, &reminder.AdapterError{Op: "list scheduled", Err: err}
	}

	liveIDs := make(map[string]struct{}, len(live))
	for _, e := range live {
		liveIDs[e.ID] = struct{}{}
	}
	storedIDs := make(map[string]struct{}, len(active))

	for _, r := range active {
		storedIDs[r.OSScheduleID] = struct{}{}
		if _, ok := liveIDs[r.OSScheduleID]; ok {
			continue
		}
		rep.Inconsistencies = append(rep.Inconsistencies, Inconsistency{
			Kind:         KindOrphanedStoredRecord,
			EntityID:     r.EntityID,
			ReminderType: r.Type,
			OSScheduleID: r.OSScheduleID,
		})
	}

	for _, e := range live {
		if _, ok := storedIDs[e.ID]; !ok {
			rep.Informational = append(rep.Informational, Inconsistency{
				Kind:         KindUnknownOSEntry,
				OSScheduleID: e.ID,
			})
		}
	}

	rep.IsConsistent = len(rep.Inconsistencies) == 0
	if !rep.IsConsistent {
		v.log.Warn("schedule drift detected",
			logx.Int("orphaned", len(rep.Inconsistencies)),
			logx.Int("unknown", len(rep.Informational)))
		if v.bus != nil {
			v.bus.Publish(eventbus.Event{Type: eventbus.SignalInconsistency, Data: rep})
		}
	}
	return rep, nil
}
