// Package crawler holds the coordination model shared by every component: jobs, tasks,
// stop reasons, and the contracts for the ledger, dedup gate, and frontier.
//
// Workers share no memory. They coordinate only through the frontier queue and the
// atomic operations exposed by Ledger and DedupGate. Stopping is a state transition that
// workers observe lazily, so tasks already in flight when a limit trips still complete.
package crawler
