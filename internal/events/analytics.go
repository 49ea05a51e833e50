package events

import (
	"math"
	"strconv"

	"entryminder/internal/reminder"
)

// Aggregate returns a snapshot of the current analytics aggregate.
func (l *Log) Aggregate() reminder.Aggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := l.agg
	cp.PerType = make(map[reminder.Type]*reminder.TypeStats, len(l.agg.PerType))
	for t, st := range l.agg.PerType {
		c := *st
		cp.PerType[t] = &c
	}
	return cp
}

// formatRate renders num/den as a percentage rounded to two decimals.
// "0" when the denominator is zero; trailing zeros are not padded
// ("50", "66.67").
func formatRate(num, den int) string {
	if den == 0 {
		return "0"
	}
	v := math.Round(float64(num)/float64(den)*100*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64)
}
