package events

import (
	"entryminder/internal/reminder"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is a rule-based hint derived from the aggregate.
type Recommendation struct {
	ReminderType reminder.Type // empty for global rules
	Kind         string
	Message      string
	Priority     Priority
}

// Rule thresholds (percent).
const (
	lowClickRateThreshold  = 10
	lowActionRateThreshold = 5
	highIgnoreThreshold    = 50
	performingThreshold    = 20
)

// Recommendations evaluates the deterministic rule set over agg.
// Per-type rules only fire for types that have sent at least once.
// Pass types to restrict the per-type rules; global rules always run.
func Recommendations(agg reminder.Aggregate, only ...reminder.Type) []Recommendation {
	var out []Recommendation

	types := reminder.AllTypes
	if len(only) > 0 {
		types = only
	}

	globalSent, globalClicked := 0, 0
	for _, st := range agg.PerType {
		globalSent += st.Sent
		globalClicked += st.Clicked
	}

	for _, t := range types {
		st, ok := agg.PerType[t]
		if !ok || st.Sent == 0 {
			continue
		}
		clickPct := pct(st.Clicked, st.Sent)
		actionPct := pct(st.ActionClicked, st.Sent)
		ignorePct := pct(st.Ignored, st.Sent)

		if clickPct < lowClickRateThreshold {
			out = append(out, Recommendation{
				ReminderType: t,
				Kind:         "low-engagement",
				Message:      "click rate below 10%; consider adjusting timing or copy",
				Priority:     PriorityHigh,
			})
		}
		if actionPct < lowActionRateThreshold {
			out = append(out, Recommendation{
				ReminderType: t,
				Kind:         "low-action-usage",
				Message:      "action buttons used on fewer than 5% of sends",
				Priority:     PriorityMedium,
			})
		}
		if ignorePct > highIgnoreThreshold {
			out = append(out, Recommendation{
				ReminderType: t,
				Kind:         "high-ignore-rate",
				Message:      "more than half of sends are ignored",
				Priority:     PriorityHigh,
			})
		}
	}

	if globalSent > 0 && pct(globalClicked, globalSent) > performingThreshold {
		out = append(out, Recommendation{
			Kind:     "performing-well",
			Message:  "overall click rate above 20%",
			Priority: PriorityLow,
		})
	}
	return out
}

func pct(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}
