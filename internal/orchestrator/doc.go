// Package orchestrator drives one generation job from bookend pair to
// verdict, and runs batches of golden samples back-to-back.
//
// A job runs these steps in order: pair preflight, backend admission, GPU
// snapshot, submission and tracking under the retry coordinator, artifact
// fetch, boundary-frame scoring, and the quality gate. Every job holds a
// per-backend file lock for its whole lifetime, so at most one job is active
// against a backend across processes. The job's lifecycle is mirrored into
// the SQLite job store and its telemetry record is written whatever the
// outcome.
//
// Scoring failures become degraded FAIL verdicts. Submission failures and
// exhausted retry budgets become job errors on the outcome, which the batch
// reports without aborting unless ContinueOnError is off.
package orchestrator
