// Package persistence implements the unit-of-work session that backs every
// command execution
//
// A Session tracks objects inserted, loaded, and deleted during a command,
// guarantees a single in-memory instance per database row, detects dirty
// objects by comparing state snapshots taken at load time, and flushes all
// pending work in a deterministic order. Concurrent modification is detected
// through revision checks at flush time
package persistence
