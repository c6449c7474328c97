// Package preflight runs the cheap checks that gate a job before any
// generation budget is spent.
//
// These checks run in two contexts:
//   - The orchestrator calls CheckPair on each bookend pair and RunAll before
//     each job. A rejected pair blocks submission in strict mode and is only
//     logged in permissive mode. Admission failures (queue depth, free VRAM)
//     are advisory unless strict admission is configured.
//   - The CLI "framegate status" and "framegate check-pair" commands call the
//     individual checks to display backend health.
//
// Checks with a zero threshold in config are skipped.
package preflight
