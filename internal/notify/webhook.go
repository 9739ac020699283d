package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Completion is posted to the webhook when a session finishes.
type Completion struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	StopReason string `json:"stop_reason,omitempty"`
	Path       string `json:"path,omitempty"`
	Transcoded bool   `json:"transcoded"`
	RecordedMs int64  `json:"recorded_ms"`
	PausedMs   int64  `json:"paused_ms"`
	ArchiveKey string `json:"archive_key,omitempty"`
	Error      string `json:"error,omitempty"`
}

type webhookEvent struct {
	Event      string      `json:"event"`
	Title      string      `json:"title,omitempty"`
	Message    string      `json:"message,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
	SentAt     time.Time   `json:"sent_at"`
}

// Webhook posts JSON events to an HTTP endpoint. A zero URL disables it,
// and every method on a disabled or nil Webhook is a no-op.
type Webhook struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	enabled    bool
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, timeout time.Duration, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	if url == "" {
		return &Webhook{enabled: false, logger: logger}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:        strings.TrimRight(url, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		enabled:    true,
	}
}

func (w *Webhook) Enabled() bool {
	return w != nil && w.enabled
}

func (w *Webhook) Notify(title, message string) error {
	return w.post(context.Background(), webhookEvent{Event: "notification", Title: title, Message: message})
}

// Alert has no webhook rendition.
func (w *Webhook) Alert(int, time.Duration) error {
	return nil
}

// Completed reports a finished session.
func (w *Webhook) Completed(ctx context.Context, c Completion) error {
	return w.post(ctx, webhookEvent{Event: "session_completed", Completion: &c})
}

func (w *Webhook) post(ctx context.Context, ev webhookEvent) error {
	if w == nil || !w.enabled {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ev.SentAt = time.Now().UTC()
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", appName)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", ev.Event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Debug("Webhook delivered", zap.String("event", ev.Event))
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("webhook %s failed: status=%d body=%s", ev.Event, resp.StatusCode, strings.TrimSpace(string(data)))
}
