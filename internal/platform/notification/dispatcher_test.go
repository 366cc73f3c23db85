package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type funcSender func(ctx context.Context, ev Event) error

func (f funcSender) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

type countingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *countingObserver) NotificationFailed(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.QueueSize = 8
	cfg.RetryBackoff = time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func sampleEvent(claimID string, et EventType) Event {
	return Event{
		ClaimID:       claimID,
		Event:         et,
		HospitalID:    "H1",
		HospitalName:  "City Hospital",
		PatientName:   "Asha Rao",
		ClaimedAmount: decimal.RequireFromString("1800"),
		PayerName:     "Star Health",
		Actor:         Actor{ID: "u1", Role: "hospital_user", Email: "u1@example.com"},
	}
}

func TestDispatcher_DeliversEvents(t *testing.T) {
	var delivered atomic.Int32
	sender := funcSender(func(_ context.Context, ev Event) error {
		delivered.Add(1)
		return nil
	})
	failures := NewMemoryFailureLog()
	d, err := NewDispatcher(testConfig(), sender, failures, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), sampleEvent("CSHLSIP-20260101-1", EventPending))
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if delivered.Load() != 5 {
		t.Errorf("expected 5 deliveries, got %d", delivered.Load())
	}
	if _, total, _ := failures.List(context.Background(), 10, 0); total != 0 {
		t.Errorf("expected no failures, got %d", total)
	}
}

func TestDispatcher_RecordsFailureAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	sender := funcSender(func(_ context.Context, ev Event) error {
		attempts.Add(1)
		return errors.New("connection refused")
	})
	failures := NewMemoryFailureLog()
	obs := &countingObserver{}
	d, _ := NewDispatcher(testConfig(), sender, failures, zerolog.Nop(), WithObserver(obs))

	d.Notify(context.Background(), sampleEvent("C-1", EventQCClear))
	_ = d.Close()

	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
	items, total, _ := failures.List(context.Background(), 10, 0)
	if total != 1 {
		t.Fatalf("expected 1 failure, got %d", total)
	}
	f := items[0]
	if f.ClaimID != "C-1" || f.Event != EventQCClear || f.Attempts != 2 {
		t.Errorf("unexpected failure record: %+v", f)
	}
	if f.ID == "" {
		t.Error("expected failure id")
	}
	if len(obs.events) != 1 || obs.events[0] != "qc_clear" {
		t.Errorf("expected observer to see qc_clear, got %v", obs.events)
	}
}

func TestDispatcher_SenderPanicIsContained(t *testing.T) {
	sender := funcSender(func(_ context.Context, ev Event) error { panic("boom") })
	failures := NewMemoryFailureLog()
	d, _ := NewDispatcher(testConfig(), sender, failures, zerolog.Nop())

	d.Notify(context.Background(), sampleEvent("C-2", EventDenial))
	d.Notify(context.Background(), sampleEvent("C-3", EventDenial))
	_ = d.Close()

	if _, total, _ := failures.List(context.Background(), 10, 0); total != 2 {
		t.Errorf("expected both panics recorded, got %d", total)
	}
}

func TestDispatcher_QueueFullRecordsFailure(t *testing.T) {
	release := make(chan struct{})
	sender := funcSender(func(_ context.Context, ev Event) error {
		<-release
		return nil
	})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 0
	failures := NewMemoryFailureLog()
	d, _ := NewDispatcher(cfg, sender, failures, zerolog.Nop())

	// With an unbuffered queue and one busy worker, extra events must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Notify(context.Background(), sampleEvent("C-4", EventDispatched))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	close(release)
	_ = d.Close()

	items, total, _ := failures.List(context.Background(), 10, 0)
	if total < 4 {
		t.Fatalf("expected at least 4 queue-full failures, got %d", total)
	}
	if items[0].Error != ErrQueueFull.Error() {
		t.Errorf("expected queue full error, got %q", items[0].Error)
	}
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	failures := NewMemoryFailureLog()
	d, _ := NewDispatcher(testConfig(), funcSender(func(context.Context, Event) error { return nil }), failures, zerolog.Nop())
	_ = d.Close()

	d.Notify(context.Background(), sampleEvent("C-5", EventReviewed))

	items, total, _ := failures.List(context.Background(), 10, 0)
	if total != 1 || items[0].Error != ErrDispatcherClosed.Error() {
		t.Errorf("expected closed failure, got %d %+v", total, items)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"negative queue", func(c *Config) { c.QueueSize = -1 }, true},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPSender_PostsJSON(t *testing.T) {
	var got Event
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewHTTPSender(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Send(context.Background(), sampleEvent("C-6", EventApproved)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", contentType)
	}
	if got.ClaimID != "C-6" || got.Event != EventApproved || got.Actor.Role != "hospital_user" {
		t.Errorf("unexpected payload: %+v", got)
	}
	if !got.ClaimedAmount.Equal(decimal.NewFromInt(1800)) {
		t.Errorf("expected claimed_amount 1800, got %s", got.ClaimedAmount)
	}
}

func TestHTTPSender_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s, _ := NewHTTPSender(srv.URL, time.Second)
	if err := s.Send(context.Background(), sampleEvent("C-7", EventApproved)); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestHTTPSender_DisabledSkips(t *testing.T) {
	s, err := NewHTTPSender("", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Enabled() {
		t.Error("expected sender without URL to be disabled")
	}
	if err := s.Send(context.Background(), sampleEvent("C-8", EventPending)); err != nil {
		t.Errorf("disabled sender should skip silently, got %v", err)
	}
}

func TestHTTPSender_RejectsBadURL(t *testing.T) {
	if _, err := NewHTTPSender("ftp://notify", time.Second); err == nil {
		t.Error("expected error for non-http scheme")
	}
}

func TestListFailures_Handler(t *testing.T) {
	log := NewMemoryFailureLog()
	for _, id := range []string{"A", "B", "C"} {
		_ = log.Record(context.Background(), &Failure{ID: id, ClaimID: id, Event: EventPending, Error: "x"})
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/notifications/failures?limit=2", nil)
	rec := httptest.NewRecorder()
	if err := ListFailures(log)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data    []Failure `json:"data"`
		Total   int       `json:"total"`
		HasMore bool      `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page: %+v", resp)
	}
	if resp.Data[0].ID != "C" {
		t.Errorf("expected newest first, got %s", resp.Data[0].ID)
	}
}
