package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": false},
		"storage": {"driver": "sqlite", "path": "./state.db", "busy_timeout": "5s"},
		"policy": {
			"timezone": "Asia/Jakarta",
			"min_send_gap": "1h",
			"expiry_offsets": {"JP": ["336h", "72h"]}
		},
		"sweep": {"expire_spec": "@every 5m"}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Logging.Console == nil || *cfg.Logging.Console {
		t.Fatal("console not decoded as explicit false")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Policy.Timezone != "Asia/Jakarta" {
		t.Fatalf("timezone = %q", cfg.Policy.Timezone)
	}
	offs, err := ParseDurationList("policy.expiry_offsets.JP", cfg.Policy.ExpiryOffsets["JP"])
	if err != nil {
		t.Fatal(err)
	}
	if len(offs) != 2 || offs[0] != 14*24*time.Hour {
		t.Fatalf("offsets = %v", offs)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logging:
  level: info
storage:
  driver: file
  path: ./state
actions:
  remind_later_delay: 90m
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	d, err := ParseDurationOrDefault("actions.remind_later_delay", cfg.Actions.RemindLaterDelay, time.Hour)
	if err != nil || d != 90*time.Minute {
		t.Fatalf("delay = %v err=%v", d, err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging": {"level": "info"}, "surprise": true}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}

	path = writeFile(t, "config.yaml", "storage:\n  driver: file\n  verbose: yes\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown nested field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging": {"level": "info"}}{"extra": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("trailing document accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 30m "); err != nil || d != 30*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage accepted")
	}
	if _, err := ParseDurationField("x", "-5m"); err == nil {
		t.Fatal("negative accepted")
	}
}

func TestParseDurationList(t *testing.T) {
	offs, err := ParseDurationList("x", []string{"720h", "168h", "24h"})
	if err != nil {
		t.Fatal(err)
	}
	if len(offs) != 3 || offs[2] != 24*time.Hour {
		t.Fatalf("offsets = %v", offs)
	}
	if _, err := ParseDurationList("x", []string{"1h", "nope"}); err == nil {
		t.Fatal("bad entry accepted")
	}
}

func TestGetAfterLoad(t *testing.T) {
	path := writeFile(t, "config.json", `{"storage": {"driver": "memory", "path": ""}}`)
	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("config present before load")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m.Get() != cfg {
		t.Fatal("Get returned a different config than Load committed")
	}
}
