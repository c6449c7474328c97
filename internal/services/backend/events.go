package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"framegate/internal/logging"
	"framegate/internal/services"
)

const eventBuffer = 64

// Dialer opens WebSocket connections.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

func defaultDialer() Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Subscription is an open push channel. Events are delivered in arrival
// order on Events; the channel is closed when the connection ends.
type Subscription struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Subscribe opens the backend's event stream for this client id.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	target, err := c.eventsURL()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "subscribe", "build events url", err)
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, c.transportError(ctx, "subscribe", err)
	}

	sub := &Subscription{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go sub.read(c.dialect.parseEvent, c)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	c.logger.Debug("event stream opened", logging.String("url", target))
	return sub, nil
}

func (c *Client) eventsURL() (string, error) {
	parsed, err := url.Parse(c.baseURL + c.dialect.eventsPath)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	query := parsed.Query()
	query.Set("clientId", c.clientID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Err returns the error that ended the stream, if any. It is nil after a
// clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) read(parse func([]byte) (Event, bool, error), c *Client) {
	defer close(s.events)
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.mu.Lock()
				s.err = services.Wrap(services.ErrNetwork, stageName, "events", "stream ended", err)
				s.mu.Unlock()
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		event, ok, err := parse(data)
		if err != nil {
			c.logger.Debug("ignoring malformed event", logging.Error(err))
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func parseGenericEvent(data []byte) (Event, bool, error) {
	var payload struct {
		Type           string `json:"type"`
		JobID          string `json:"jobId"`
		Node           string `json:"node"`
		Value          int    `json:"value"`
		Max            int    `json:"max"`
		Message        string `json:"message"`
		QueueRemaining int    `json:"queueRemaining"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Event{}, false, err
	}
	kind := EventKind(strings.ToLower(strings.TrimSpace(payload.Type)))
	switch kind {
	case EventStatus, EventQueued, EventRunning, EventExecuting, EventProgress, EventNodeOutput, EventExecuted, EventError:
	default:
		return Event{}, false, nil
	}
	return Event{
		Kind:           kind,
		JobID:          payload.JobID,
		Node:           payload.Node,
		Value:          payload.Value,
		Max:            payload.Max,
		Message:        payload.Message,
		QueueRemaining: payload.QueueRemaining,
	}, true, nil
}

func parseComfyEvent(data []byte) (Event, bool, error) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Event{}, false, err
	}
	var body struct {
		PromptID         string  `json:"prompt_id"`
		Node             *string `json:"node"`
		Value            int     `json:"value"`
		Max              int     `json:"max"`
		NodeType         string  `json:"node_type"`
		ExceptionMessage string  `json:"exception_message"`
		Status           struct {
			ExecInfo struct {
				QueueRemaining int `json:"queue_remaining"`
			} `json:"exec_info"`
		} `json:"status"`
	}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &body); err != nil {
			return Event{}, false, err
		}
	}
	event := Event{JobID: body.PromptID}
	if body.Node != nil {
		event.Node = *body.Node
	}
	switch envelope.Type {
	case "status":
		event.Kind = EventStatus
		event.QueueRemaining = body.Status.ExecInfo.QueueRemaining
	case "execution_start":
		event.Kind = EventRunning
	case "executing":
		if body.Node == nil {
			event.Kind = EventExecuted
		} else {
			event.Kind = EventExecuting
		}
	case "progress":
		event.Kind = EventProgress
		event.Value = body.Value
		event.Max = body.Max
	case "executed":
		event.Kind = EventNodeOutput
	case "execution_success":
		event.Kind = EventExecuted
	case "execution_error":
		event.Kind = EventError
		event.Message = strings.TrimSpace(body.ExceptionMessage)
		if body.NodeType != "" {
			event.Message = body.NodeType + ": " + event.Message
		}
	case "execution_interrupted":
		event.Kind = EventError
		event.Message = "execution interrupted"
	default:
		return Event{}, false, nil
	}
	return event, true, nil
}
