package config

// Config is the engine's on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "30m", "1h", "72h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	Policy    PolicyConfig    `json:"policy,omitempty"`
	Sweep     SweepConfig     `json:"sweep,omitempty"`
	Actions   ActionsConfig   `json:"actions,omitempty"`
	Analytics AnalyticsConfig `json:"analytics,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // nil means true
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./entryminder.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls the local notification scheduler.
type NotifierConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// PolicyConfig tunes the reminder policies.
//
// ExpiryOffsets maps a destination label to an ordered list of
// offsets-before-expiry duration strings; DefaultExpiryOffsets applies to
// destinations without an entry.
type PolicyConfig struct {
	Timezone             string              `json:"timezone,omitempty"` // IANA TZ for the deadline-day anchor
	MinSendGap           string              `json:"min_send_gap,omitempty"`
	RemindLaterStep      string              `json:"remind_later_step,omitempty"`
	ExpiryOffsets        map[string][]string `json:"expiry_offsets,omitempty"`
	DefaultExpiryOffsets []string            `json:"default_expiry_offsets,omitempty"`
}

// SweepConfig controls the maintenance cron cadences.
//
// Enabled is a pointer so "omitted" defaults to true while an explicit false
// still disables the service.
type SweepConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	ExpireSpec   string `json:"expire_spec,omitempty"`
	PruneSpec    string `json:"prune_spec,omitempty"`
	ValidateSpec string `json:"validate_spec,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

type ActionsConfig struct {
	RemindLaterDelay string `json:"remind_later_delay,omitempty"` // default "60m"
}

type AnalyticsConfig struct {
	RetentionDays int `json:"retention_days,omitempty"` // default 30
}
