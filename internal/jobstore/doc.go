// Package jobstore persists the lifecycle of generation jobs in SQLite.
//
// Each job row tracks the status machine (pending, submitted, queued,
// running, then succeeded, failed, or cancelled), the attempts used against
// the retry budget, and the final outcome: exit reason, verdict, decision,
// and the telemetry artifact that explains it. Status changes go through
// Transition, which rejects moves the lifecycle does not allow.
package jobstore
