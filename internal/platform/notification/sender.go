package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Sender delivers a single event.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// HTTPSender POSTs events as JSON to the notification service.
type HTTPSender struct {
	url        string
	httpClient *http.Client
}

type SenderOption func(*HTTPSender)

func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *HTTPSender) { s.httpClient = c }
}

// NewHTTPSender returns a sender for rawURL. An empty URL yields a sender that
// skips delivery, which is how local environments run.
func NewHTTPSender(rawURL string, timeout time.Duration, opts ...SenderOption) (*HTTPSender, error) {
	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid notification URL %q", rawURL)
		}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &HTTPSender{
		url:        rawURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Enabled reports whether a destination URL is configured.
func (s *HTTPSender) Enabled() bool { return s.url != "" }

func (s *HTTPSender) Send(ctx context.Context, ev Event) error {
	if !s.Enabled() {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Claim-Event", string(ev.Event))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("non-2xx response: %d %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
