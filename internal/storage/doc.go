// Package storage persists scheduler snapshots and the operator audit log.
//
// Two backends exist:
//   - file: <prefix>.state.json (atomically replaced) and <prefix>.audit.jsonl
//   - sqlite: a single database file with job_state, scheduler_meta and audit tables
//
// Driver "none" (or empty) disables persistence; Open then returns (nil, nil).
package storage
