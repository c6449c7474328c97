// Package telemetry records one JSON artifact per job: the tracker's
// polling counters and exit reason, GPU memory before and after the job,
// the error kind when the job failed, and the quality verdict when it was
// scored.
//
// GPU readings come from a chain of probes. The backend's system stats are
// preferred; nvidia-smi on the local host is the degraded substitute, and
// every fallback is noted in the record's fallbackNotes.
package telemetry
