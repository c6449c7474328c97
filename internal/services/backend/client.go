package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"framegate/internal/config"
	"framegate/internal/logging"
	"framegate/internal/services"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 2048
	stageName          = "backend"
)

// HTTPDoer describes the HTTP client used by the backend client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one generation backend instance.
type Client struct {
	baseURL  string
	dialect  dialect
	token    string
	clientID string
	http     HTTPDoer
	dialer   Dialer
	logger   *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithClientID fixes the client id sent with submissions and event
// subscriptions. A random id is generated otherwise.
func WithClientID(id string) Option {
	return func(c *Client) {
		if id = strings.TrimSpace(id); id != "" {
			c.clientID = id
		}
	}
}

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer overrides the WebSocket dialer used by Subscribe.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New constructs a client for baseURL speaking the named dialect.
func New(baseURL, dialectName string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "new client", "backend url required", nil)
	}
	d, err := lookupDialect(dialectName)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:  baseURL,
		dialect:  d,
		clientID: uuid.NewString(),
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		dialer:   defaultDialer(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "backend")
	return c, nil
}

// NewFromConfig builds a client from the backend configuration section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "new client", "configuration required", nil)
	}
	timeout := defaultHTTPTimeout
	if cfg.Backend.RequestTimeout > 0 {
		timeout = time.Duration(cfg.Backend.RequestTimeout) * time.Second
	}
	return New(cfg.Backend.URL, cfg.Backend.Dialect,
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithClientID(cfg.Backend.ClientID),
		WithToken(cfg.Backend.APIToken),
		WithLogger(logger),
	)
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the id used for submissions and subscriptions.
func (c *Client) ClientID() string { return c.clientID }

// Dialect returns the configured dialect name.
func (c *Client) Dialect() string { return c.dialect.name }

// Submit posts a rendered job graph and returns the backend-assigned handle.
func (c *Client) Submit(ctx context.Context, graph json.RawMessage) (JobHandle, error) {
	if len(bytes.TrimSpace(graph)) == 0 {
		return JobHandle{}, services.Wrap(services.ErrSubmission, stageName, "submit", "empty job graph", nil)
	}
	body, err := c.dialect.submitBody(graph, c.clientID)
	if err != nil {
		return JobHandle{}, services.Wrap(services.ErrSubmission, stageName, "submit", "encode request", err)
	}
	data, err := c.send(ctx, "submit", http.MethodPost, c.dialect.submitPath, "application/json", bytes.NewReader(body), true)
	if err != nil {
		return JobHandle{}, err
	}
	handle, err := c.dialect.parseSubmit(data)
	if err != nil {
		return JobHandle{}, services.Wrap(services.ErrBackend, stageName, "submit", "decode response", err)
	}
	if strings.TrimSpace(handle.ID) == "" {
		return JobHandle{}, services.Wrap(services.ErrBackend, stageName, "submit", "response carried no job id", nil)
	}
	handle.ClientID = c.clientID
	c.logger.Debug("job submitted",
		logging.BackendJobID(handle.ID),
		logging.String("dialect", c.dialect.name))
	return handle, nil
}

// History returns the normalized history entry for a job.
func (c *Client) History(ctx context.Context, jobID string) (HistoryEntry, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return HistoryEntry{}, services.Wrap(services.ErrValidation, stageName, "history", "job id required", nil)
	}
	data, err := c.send(ctx, "history", http.MethodGet, c.dialect.historyPath(jobID), "", nil, false)
	if err != nil {
		return HistoryEntry{}, err
	}
	entry, err := c.dialect.parseHistory(jobID, data)
	if err != nil {
		return HistoryEntry{}, services.Wrap(services.ErrBackend, stageName, "history", "decode response", err)
	}
	return entry, nil
}

// Queue returns the backend queue snapshot.
func (c *Client) Queue(ctx context.Context) (QueueSnapshot, error) {
	data, err := c.send(ctx, "queue", http.MethodGet, c.dialect.queuePath, "", nil, false)
	if err != nil {
		return QueueSnapshot{}, err
	}
	snapshot, err := c.dialect.parseQueue(data)
	if err != nil {
		return QueueSnapshot{}, services.Wrap(services.ErrBackend, stageName, "queue", "decode response", err)
	}
	return snapshot, nil
}

// SystemStats returns the backend's device report.
func (c *Client) SystemStats(ctx context.Context) (SystemStats, error) {
	data, err := c.send(ctx, "system stats", http.MethodGet, c.dialect.statsPath, "", nil, false)
	if err != nil {
		return SystemStats{}, err
	}
	stats, err := parseSystemStats(data)
	if err != nil {
		return SystemStats{}, services.Wrap(services.ErrBackend, stageName, "system stats", "decode response", err)
	}
	return stats, nil
}

// Ping verifies the backend answers its queue route.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Queue(ctx)
	return err
}

// ArtifactAvailable reports whether the backend serves the output through
// its view route.
func (c *Client) ArtifactAvailable(ctx context.Context, out Output) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.dialect.viewPath(out), "", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, c.transportError(ctx, "view", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, newStatusError("view", resp.StatusCode, "", false)
	}
}

// Download streams an output from the view route into w.
func (c *Client) Download(ctx context.Context, out Output, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.dialect.viewPath(out), "", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.transportError(ctx, "download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, newStatusError("download", resp.StatusCode, string(body), false)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, c.transportError(ctx, "download", err)
	}
	return n, nil
}

func (c *Client) newRequest(ctx context.Context, method, route, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, body)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "build request", route, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(ctx context.Context, op, method, route, contentType string, body io.Reader, submission bool) ([]byte, error) {
	req, err := c.newRequest(ctx, method, route, contentType, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := newStatusError(op, resp.StatusCode, truncate(string(data), maxErrorBody), submission)
		c.logger.Debug("backend request rejected",
			logging.String("op", op),
			logging.Int("status", resp.StatusCode))
		return nil, statusErr
	}
	return data, nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("backend %s: %w", op, ctxErr)
	}
	return services.Wrap(services.ErrNetwork, stageName, op, "request failed", err)
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	marker     error
}

func newStatusError(op string, status int, body string, submission bool) *StatusError {
	marker := services.ErrBackend
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		marker = services.ErrNetwork
	case submission && status >= 400:
		marker = services.ErrSubmission
	case status == http.StatusNotFound:
		marker = services.ErrNotFound
	}
	return &StatusError{Op: op, StatusCode: status, Body: strings.TrimSpace(body), marker: marker}
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("backend %s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return e.marker }

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	return errors.Is(err, services.ErrNetwork)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
