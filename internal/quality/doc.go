// Package quality converts similarity scores into PASS, WARN, and FAIL
// verdicts and stores per-sample baselines.
//
// Evaluate is pure: it reads the baseline's thresholds and, when the sample
// has been calibrated, reports the delta against the promoted measurement
// without letting it change the verdict. Baselines change only through
// Promote, which writes to a BaselineRepository. Two repositories ship with
// the package: FileStore (a JSON file) and SQLiteStore.
package quality
