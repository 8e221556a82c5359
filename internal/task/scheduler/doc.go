// Package scheduler is the dispatch core.
//
// A single loop (Serve) owns the job registry, every trigger and a time-ordered
// ready queue. Callers never touch that state directly; each operation is
// submitted as a command and applied in the loop's turn. Due jobs are handed to
// a Runner (normally the engine worker pool) and their results come back to the
// loop the same way, so a slow or failing action never stalls dispatch.
package scheduler
