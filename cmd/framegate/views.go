package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"framegate/internal/jobstore"
	"framegate/internal/notifications"
	"framegate/internal/orchestrator"
	"framegate/internal/quality"
	"framegate/internal/services"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type outcomeView struct {
	JobID           string                  `json:"jobId"`
	SampleID        string                  `json:"sampleId,omitempty"`
	Name            string                  `json:"name"`
	BackendJobID    string                  `json:"backendJobId,omitempty"`
	Attempts        int                     `json:"attempts"`
	Retried         []string                `json:"retried,omitempty"`
	ExitReason      string                  `json:"exitReason,omitempty"`
	Verdict         *quality.QualityVerdict `json:"verdict,omitempty"`
	Decision        quality.Decision        `json:"decision,omitempty"`
	Advisories      []string                `json:"advisories,omitempty"`
	ArtifactPath    string                  `json:"artifactPath,omitempty"`
	TelemetryPath   string                  `json:"telemetryPath,omitempty"`
	LogPath         string                  `json:"logPath,omitempty"`
	Error           string                  `json:"error,omitempty"`
	ErrorKind       string                  `json:"errorKind,omitempty"`
	DurationSeconds float64                 `json:"durationSeconds"`
}

func newOutcomeView(o orchestrator.JobOutcome) outcomeView {
	v := outcomeView{
		JobID:           o.JobID,
		SampleID:        o.SampleID,
		Name:            o.Name,
		BackendJobID:    o.BackendJobID,
		Attempts:        o.Attempts,
		Retried:         o.Retried,
		Verdict:         o.Verdict,
		Decision:        o.Decision,
		ArtifactPath:    o.ArtifactPath,
		TelemetryPath:   o.TelemetryPath,
		LogPath:         o.LogPath,
		DurationSeconds: o.Duration.Seconds(),
	}
	if o.Execution != nil {
		v.ExitReason = string(o.Execution.ExitReason)
	}
	for _, a := range o.Advisories {
		v.Advisories = append(v.Advisories, fmt.Sprintf("%s: %s", a.Name, a.Detail))
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
		v.ErrorKind = services.ErrorKind(o.Err)
	}
	return v
}

type batchView struct {
	Outcomes []outcomeView `json:"outcomes"`
	Skipped  int           `json:"skipped"`
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Warned   int           `json:"warned"`
	Failed   int           `json:"failed"`
	Errored  int           `json:"errored"`
	ExitCode int           `json:"exitCode"`
}

func newBatchView(result orchestrator.BatchResult) batchView {
	s := result.Summary()
	v := batchView{
		Outcomes: make([]outcomeView, 0, len(result.Outcomes)),
		Skipped:  result.Skipped,
		Total:    s.Total,
		Passed:   s.Passed,
		Warned:   s.Warned,
		Failed:   s.Failed,
		Errored:  s.Errored,
		ExitCode: s.ExitCode,
	}
	for _, o := range result.Outcomes {
		v.Outcomes = append(v.Outcomes, newOutcomeView(o))
	}
	return v
}

var outcomeColumns = []column{
	{title: "Sample"},
	{title: "Verdict"},
	{title: "Decision"},
	{title: "Similarity", numeric: true},
	{title: "Attempts", numeric: true},
	{title: "Duration", numeric: true},
	{title: "Detail"},
}

func outcomeRow(o orchestrator.JobOutcome) []string {
	verdict, decision, score, detail := "-", "-", "-", ""
	switch {
	case o.Err != nil:
		verdict = "ERROR"
		detail = o.Err.Error()
	case o.Verdict == nil:
		verdict = "n/a"
		detail = "analysis skipped"
	default:
		verdict = string(o.Verdict.Verdict)
		decision = string(o.Decision)
		if o.Verdict.Evaluated {
			score = formatScore(o.Verdict.Measured.AverageSimilarity)
		} else {
			detail = o.Verdict.Reason
		}
		if o.Verdict.DeltaVsBaseline != nil {
			detail = fmt.Sprintf("%+.2f vs baseline", *o.Verdict.DeltaVsBaseline)
		}
	}
	return []string{
		o.Name,
		verdict,
		decision,
		score,
		fmt.Sprintf("%d", o.Attempts),
		formatDuration(o.Duration),
		truncate(detail, 60),
	}
}

func printOutcomes(out io.Writer, outcomes []orchestrator.JobOutcome) {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, outcomeRow(o))
	}
	fmt.Fprint(out, renderTable(outcomeColumns, rows))
}

func printSummary(out io.Writer, s notifications.BatchSummary, skipped int) {
	fmt.Fprintf(out, "%d samples: %d passed, %d warned, %d failed, %d errored", s.Total, s.Passed, s.Warned, s.Failed, s.Errored)
	if skipped > 0 {
		fmt.Fprintf(out, ", %d skipped", skipped)
	}
	fmt.Fprintf(out, " (%s, exit %d)\n", formatDuration(s.Duration), s.ExitCode)
}

func jobRow(job *jobstore.GenerationJob) []string {
	score := "-"
	if job.AverageSimilarity != nil {
		score = formatScore(*job.AverageSimilarity)
	}
	subject := job.SampleID
	if subject == "" {
		subject = job.SceneID
	}
	detail := job.ErrorMessage
	if detail == "" {
		detail = job.ExitReason
	}
	return []string{
		shortID(job.ID),
		orDash(subject),
		string(job.Status),
		orDash(job.Verdict),
		orDash(job.Decision),
		score,
		fmt.Sprintf("%d/%d", job.AttemptsUsed, job.RetryBudget+1),
		job.CreatedAt.Local().Format("2006-01-02 15:04"),
		truncate(detail, 48),
	}
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
