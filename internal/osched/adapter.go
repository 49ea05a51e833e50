package osched

import (
	"context"
	"time"
)

// Package osched is a thin façade over the platform notification scheduler.
//
// The platform is opaque: it cannot be asked "what will happen", only "what is
// currently scheduled". Entries may silently disappear (permission revoked, OS
// storage pressure); the consistency validator detects that drift.

// Request describes one notification to schedule.
type Request struct {
	Title      string
	Body       string
	FiringTime time.Time
	Payload    map[string]string
}

// Entry is one live scheduled notification as reported by the platform.
type Entry struct {
	ID         string
	FiringTime time.Time
	Payload    map[string]string
}

// Adapter is the narrow interface the engine consumes.
//
// Cancel returns false (not an error) when the id is unknown.
type Adapter interface {
	ScheduleAt(ctx context.Context, req Request) (id string, err error)
	Cancel(ctx context.Context, id string) (bool, error)
	CancelAll(ctx context.Context) (bool, error)
	ListScheduled(ctx context.Context) ([]Entry, error)
}
