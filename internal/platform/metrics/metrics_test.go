package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransitionRecorded(t *testing.T) {
	m := New()
	m.TransitionRecorded("CLEARED", "claim_processor_l1")
	m.TransitionRecorded("CLEARED", "claim_processor_l1")
	m.TransitionRecorded("DISPATCHED", "hospital_user")

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("CLEARED", "claim_processor_l1")); got != 2 {
		t.Errorf("expected 2 CLEARED transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("DISPATCHED", "hospital_user")); got != 1 {
		t.Errorf("expected 1 DISPATCHED transition, got %v", got)
	}
}

func TestLockConflictAndNotificationFailure(t *testing.T) {
	m := New()
	m.LockConflict()
	m.NotificationFailed("qc_clear")

	if got := testutil.ToFloat64(m.LockConflicts); got != 1 {
		t.Errorf("expected 1 lock conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.NotificationFailures.WithLabelValues("qc_clear")); got != 1 {
		t.Errorf("expected 1 notification failure, got %v", got)
	}
}

func TestObserveRequest_UnmatchedRoute(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "", http.StatusNotFound, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("expected unmatched route to be counted, got %v", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.TransitionRecorded("CREATED", "hospital_user")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := m.Handler()(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `claims_transitions_total{role="hospital_user",type="CREATED"} 1`) {
		t.Errorf("expected transition sample in exposition, got:\n%s", body)
	}
}
