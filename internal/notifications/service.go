package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"framegate/internal/config"
	"framegate/internal/quality"
)

const userAgent = "framegate/0.1.0"

// Service defines the notification surface used by the orchestrator and CLI.
type Service interface {
	NotifyVerdict(ctx context.Context, name string, verdict quality.QualityVerdict, decision quality.Decision) error
	NotifyOverrideRequired(ctx context.Context, name string, verdict quality.QualityVerdict) error
	NotifyBatchCompleted(ctx context.Context, summary BatchSummary) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// BatchSummary is the tally sent when a batch finishes.
type BatchSummary struct {
	Total    int
	Passed   int
	Warned   int
	Failed   int
	Errored  int
	ExitCode int
	Duration time.Duration
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		verdicts: cfg.Notifications.Verdicts,
		batch:    cfg.Notifications.Batch,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	verdicts bool
	batch    bool
	errors   bool
}

func (n *ntfyService) NotifyVerdict(ctx context.Context, name string, v quality.QualityVerdict, decision quality.Decision) error {
	if !n.verdicts {
		return nil
	}
	var message strings.Builder
	fmt.Fprintf(&message, "%s: %s", label(name, v.SampleID), v.Verdict)
	if v.Evaluated {
		fmt.Fprintf(&message, " (average %.2f, fail < %.0f, warn < %.0f)",
			v.Measured.AverageSimilarity, v.ThresholdsUsed.Fail, v.ThresholdsUsed.Warn)
		if v.DeltaVsBaseline != nil {
			fmt.Fprintf(&message, "\nDelta vs baseline: %+.2f", *v.DeltaVsBaseline)
		}
	} else if v.Reason != "" {
		message.WriteString("\n")
		message.WriteString(v.Reason)
	}
	fmt.Fprintf(&message, "\nDecision: %s", decision)

	data := payload{
		title:   "framegate - " + string(v.Verdict),
		message: message.String(),
		tags:    []string{"framegate", "verdict", strings.ToLower(string(v.Verdict))},
	}
	if v.Verdict == quality.VerdictFail {
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyOverrideRequired(ctx context.Context, name string, v quality.QualityVerdict) error {
	if !n.verdicts {
		return nil
	}
	message := fmt.Sprintf("%s was blocked by the quality gate and needs a manual override", label(name, v.SampleID))
	if v.Evaluated {
		message += fmt.Sprintf("\nAverage similarity %.2f is below %.0f", v.Measured.AverageSimilarity, v.ThresholdsUsed.Fail)
	} else if v.Reason != "" {
		message += "\n" + v.Reason
	}
	data := payload{
		title:    "framegate - Override Required",
		message:  message,
		tags:     []string{"framegate", "override", "review"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, s BatchSummary) error {
	if !n.batch {
		return nil
	}
	duration := s.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	title := "framegate - Batch Passed"
	if s.ExitCode != 0 {
		title = "framegate - Batch Failed"
	}
	message := fmt.Sprintf("%d samples in %s: %d pass, %d warn, %d fail, %d errored (exit %d)",
		s.Total, duration, s.Passed, s.Warned, s.Failed, s.Errored, s.ExitCode)
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"framegate", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "framegate - Error",
		message:  builder.String(),
		tags:     []string{"framegate", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "framegate - Test",
		message:  "Notification system test",
		tags:     []string{"framegate", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func label(name, sampleID string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return sampleID
}

type noopService struct{}

func (noopService) NotifyVerdict(context.Context, string, quality.QualityVerdict, quality.Decision) error {
	return nil
}
func (noopService) NotifyOverrideRequired(context.Context, string, quality.QualityVerdict) error {
	return nil
}
func (noopService) NotifyBatchCompleted(context.Context, BatchSummary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error         { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
