package storage

// Package storage persists the engine's scheduling state independently of the
// OS notification schedule.
//
// Tables (logical):
//   - reminder records, keyed entityId|reminderType (series types keep an
//     ordered list under one key)
//   - frequency-guard timestamps, same key shape
//   - the append-only interaction event log
//   - the singleton analytics aggregate
//
// Drivers: sqlite (default), bbolt, file (jsonl + snapshot), memory.
