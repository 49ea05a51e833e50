package policy

import (
	"context"
	"time"

	"entryminder/internal/eventbus"
	"entryminder/internal/reminder"
	"entryminder/internal/storage"
	logx "entryminder/pkg/logx"
)

// ExpireSweep walks every active record and marks the ones past their logical
// window as Expired. There is no reliable delivery callback from the OS, so
// "past its window" is the authoritative expiry signal; Fired stays reserved
// for explicit delivery reports.
//
// The sweep is the only implicit status transition in the engine and it runs
// only when explicitly invoked (the cron service, a foreground re-evaluation).
func ExpireSweep(ctx context.Context, st storage.Store, loc *time.Location, now time.Time, bus eventbus.Bus, log logx.Logger) (int, error) {
	if st == nil {
		return 0, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	active, err := st.ListActive(ctx)
	if err != nil {
		return 0, &reminder.StoreError{Op: "list active", Err: err}
	}

	// Group by storage key so each series is rewritten once.
	type key struct {
		entity string
		typ    reminder.Type
	}
	doomed := map[key][]string{}
	for _, r := range active {
		if now.After(ExpireThreshold(r, loc)) {
			k := key{entity: r.EntityID, typ: r.Type}
			doomed[k] = append(doomed[k], r.ID)
		}
	}

	expired := 0
	for k, ids := range doomed {
		recs, err := st.GetSeries(ctx, k.entity, k.typ)
		if err != nil {
			return expired, &reminder.StoreError{Op: "get series", Err: err}
		}
		changed := false
		for i := range recs {
			if !recs[i].Active() {
				continue
			}
			for _, id := range ids {
				if recs[i].ID == id {
					recs[i].Status = reminder.StatusExpired
					recs[i].UpdatedAt = now
					changed = true
					expired++
					break
				}
			}
		}
		if !changed {
			continue
		}
		if err := st.PutSeries(ctx, k.entity, k.typ, recs); err != nil {
			return expired, &reminder.StoreError{Op: "put series", Err: err}
		}
		if bus != nil {
			bus.Publish(eventbus.Event{
				Type: eventbus.SignalExpired,
				Data: map[string]string{"entity_id": k.entity, "reminder_type": string(k.typ)},
			})
		}
	}
	if expired > 0 {
		log.Info("expiry sweep", logx.Int("expired", expired))
	}
	return expired, nil
}
