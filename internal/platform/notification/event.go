// Package notification delivers claim lifecycle events to the external
// notification service. Delivery is fire-and-forget: callers enqueue and move
// on, failures land in a FailureLog.
package notification

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a lifecycle event understood by the notification service.
type EventType string

const (
	EventPending      EventType = "pending"
	EventQCQuery      EventType = "qc_query"
	EventQCAnswered   EventType = "qc_answered"
	EventNeedMoreInfo EventType = "need_more_info"
	EventQCClear      EventType = "qc_clear"
	EventApproved     EventType = "approved"
	EventDenial       EventType = "denial"
	EventDispatched   EventType = "dispatched"
	EventContested    EventType = "contested"
	EventReviewed     EventType = "reviewed"
	EventEscalated    EventType = "escalated"
	EventRMUpdated    EventType = "rm_updated"
)

// Actor identifies who triggered the event.
type Actor struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Event is the payload posted to the notification service.
type Event struct {
	ClaimID       string          `json:"claim_id"`
	Event         EventType       `json:"event"`
	HospitalID    string          `json:"hospital_id"`
	HospitalName  string          `json:"hospital_name"`
	PatientName   string          `json:"patient_name"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	PayerName     string          `json:"payer_name"`
	Actor         Actor           `json:"actor"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
