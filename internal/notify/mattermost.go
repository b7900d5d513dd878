package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

const (
	// DefaultMattermostTimeout bounds each HTTP call.
	DefaultMattermostTimeout = 10 * time.Second

	// DefaultMattermostRetryDelay is the base of the quadratic backoff.
	DefaultMattermostRetryDelay = time.Second

	// maxResponseSize prevents OOM on unexpectedly large API responses (1MB).
	maxResponseSize = 1 << 20

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 300
)

// statusError is a non-2xx API response.
type statusError struct {
	op     string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mattermost %s: status %d: %s", e.op, e.status, e.body)
}

// permanent reports whether retrying cannot help.
func (e *statusError) permanent() bool {
	switch e.status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadRequest:
		return true
	}
	return false
}

// Mattermost uploads the report to a chat channel and posts a summary with it.
//
// Each delivery makes 1+MaxRetries independent attempts (upload then post) with
// attempt² × RetryDelay backoff. A circuit breaker short-circuits attempts while
// the server keeps failing, and an optional limiter caps the post rate.
type Mattermost struct {
	cfg     MattermostConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// MattermostOption customises the channel.
type MattermostOption func(*Mattermost)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) MattermostOption {
	return func(m *Mattermost) { m.client = c }
}

// WithSleep overrides the backoff wait, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) MattermostOption {
	return func(m *Mattermost) { m.sleep = fn }
}

// NewMattermost creates the channel. A config missing any of server URL, token or
// channel ID yields a disabled channel.
func NewMattermost(cfg MattermostConfig, opts ...MattermostOption) *Mattermost {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMattermostTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultMattermostRetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.Enabled && len(cfg.Missing()) > 0 {
		log.Warn().Strs("missing", cfg.Missing()).Msg("mattermost: incomplete configuration, channel disabled")
		cfg.Enabled = false
	}

	m := &Mattermost{
		cfg:    cfg,
		client: &http.Client{}, // timeout via context, not client
		sleep:  sleepContext,
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mattermost",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("mattermost: circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Rejected requests say nothing about server health.
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.permanent())
		},
	})
	if cfg.RateLimit > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mattermost) Name() string  { return "mattermost" }
func (m *Mattermost) Enabled() bool { return m.cfg.Enabled }

// Send uploads the report and posts the alert message.
func (m *Mattermost) Send(ctx context.Context, ev *monitoring.PerformanceEvent, report []byte) error {
	if !m.cfg.Enabled {
		return ErrChannelDisabled
	}

	fileName := ReportName(ev) + ".html"
	message := formatMessage(ev)

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * m.cfg.RetryDelay
			if err := m.sleep(ctx, backoff); err != nil {
				return fmt.Errorf("mattermost: %w (last error: %v)", err, lastErr)
			}
		}
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("mattermost: rate limiter: %w", err)
			}
		}

		_, err := m.breaker.Execute(func() (interface{}, error) {
			return nil, m.deliver(ctx, fileName, report, message)
		})
		if err == nil {
			log.Info().Str("endpoint", ev.Endpoint).Int("attempt", attempt+1).Msg("mattermost: alert posted")
			return nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && se.permanent() {
			return err
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("mattermost: %w", err)
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", m.cfg.MaxRetries+1).
			Msg("mattermost: delivery attempt failed")
	}
	return fmt.Errorf("mattermost: giving up after %d attempts: %w", m.cfg.MaxRetries+1, lastErr)
}

// deliver performs one upload-then-post attempt.
func (m *Mattermost) deliver(ctx context.Context, fileName string, report []byte, message string) error {
	fileID, err := m.upload(ctx, fileName, report)
	if err != nil {
		return err
	}
	return m.post(ctx, message, fileID)
}

// TestConnection verifies the token against /api/v4/users/me.
func (m *Mattermost) TestConnection(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrChannelDisabled
	}
	body, err := m.do(ctx, "auth", http.MethodGet, "/api/v4/users/me", nil, "")
	if err != nil {
		return err
	}
	log.Debug().Str("username", gjson.GetBytes(body, "username").String()).Msg("mattermost: authenticated")
	return nil
}

func (m *Mattermost) upload(ctx context.Context, fileName string, report []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("channel_id", m.cfg.ChannelID); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("files", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(report); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	body, err := m.do(ctx, "upload", http.MethodPost, "/api/v4/files", &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "file_infos.0.id").String()
	if id == "" {
		return "", fmt.Errorf("mattermost upload: response has no file id")
	}
	return id, nil
}

func (m *Mattermost) post(ctx context.Context, message, fileID string) error {
	payload, err := sjson.SetBytes([]byte(`{}`), "channel_id", m.cfg.ChannelID)
	if err == nil {
		payload, err = sjson.SetBytes(payload, "message", message)
	}
	if err == nil {
		payload, err = sjson.SetBytes(payload, "file_ids", []string{fileID})
	}
	if err != nil {
		return fmt.Errorf("mattermost post: build payload: %w", err)
	}

	body, err := m.do(ctx, "post", http.MethodPost, "/api/v4/posts", bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "id").Exists() {
		return fmt.Errorf("mattermost post: response has no post id")
	}
	return nil
}

// do sends one authenticated API call and returns the response body.
func (m *Mattermost) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.ServerURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("mattermost %s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mattermost %s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("mattermost %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := gjson.GetBytes(respBody, "message").String()
		if errBody == "" {
			errBody = string(respBody)
		}
		if len(errBody) > maxErrorBodyLen {
			errBody = errBody[:maxErrorBodyLen] + "..."
		}
		return nil, &statusError{op: op, status: resp.StatusCode, body: errBody}
	}
	return respBody, nil
}

func formatMessage(ev *monitoring.PerformanceEvent) string {
	var b strings.Builder
	b.WriteString("#### :warning: Slow request detected\n")
	fmt.Fprintf(&b, "**Endpoint:** `%s`\n", ev.Endpoint)
	if ev.Method != "" {
		fmt.Fprintf(&b, "**Method:** %s\n", ev.Method)
	}
	fmt.Fprintf(&b, "**Duration:** %.3fs\n", ev.DurationSeconds())
	if ev.Status != 0 {
		fmt.Fprintf(&b, "**Status:** %d\n", ev.Status)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, "**Error:** %s\n", ev.Error)
	}
	if ev.URL != "" {
		fmt.Fprintf(&b, "**URL:** %s\n", ev.URL)
	}
	fmt.Fprintf(&b, "**Time:** %s\n", ev.Timestamp.Format(time.RFC3339))
	b.WriteString("Full report attached.")
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
