package claims

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/platform/auth"
)

// FormData is the hospital's semi-structured claim form.
type FormData map[string]any

// Present reports whether key holds a non-empty value. Zero amounts, empty
// strings and empty lists all count as absent.
func (f FormData) Present(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return err == nil && !d.IsZero()
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// String returns the value at key as trimmed text.
func (f FormData) String(key string) string {
	switch t := f[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Decimal parses the value at key. ok is false when the key is absent or blank.
func (f FormData) Decimal(key string) (d decimal.Decimal, ok bool, err error) {
	return toDecimal(f[key])
}

func toDecimal(v any) (decimal.Decimal, bool, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case decimal.Decimal:
		return t, true, nil
	case float64:
		return decimal.NewFromFloat(t), true, nil
	case int:
		return decimal.NewFromInt(int64(t)), true, nil
	case int64:
		return decimal.NewFromInt(t), true, nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil, err
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil, err
	}
	return decimal.Zero, false, fmt.Errorf("unsupported amount type %T", v)
}

func (f FormData) Clone() FormData {
	out := make(FormData, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Actor is the identity recorded on transactions and sub-records.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

func ActorFrom(p *auth.Principal) Actor {
	return Actor{ID: p.UserID, Email: p.Email, Name: p.Name, Role: p.Role}
}

// Lock is the processor lease embedded in a claim.
type Lock struct {
	ProcessorID    string    `json:"locked_by_processor"`
	ProcessorEmail string    `json:"locked_by_processor_email,omitempty"`
	ProcessorName  string    `json:"locked_by_processor_name,omitempty"`
	LockedAt       time.Time `json:"locked_at"`
	ExpiresAt      time.Time `json:"lock_expires_at"`
}

type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Type       string    `json:"type,omitempty"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Dispatch struct {
	Mode                 string    `json:"dispatch_mode"`
	Date                 string    `json:"dispatch_date"`
	Remarks              string    `json:"dispatch_remarks,omitempty"`
	AcknowledgmentNumber string    `json:"acknowledgment_number,omitempty"`
	CourierName          string    `json:"courier_name,omitempty"`
	DocketNumber         string    `json:"docket_number,omitempty"`
	ContactPersonName    string    `json:"contact_person_name,omitempty"`
	ContactPersonPhone   string    `json:"contact_person_phone,omitempty"`
	DispatchedBy         Actor     `json:"dispatched_by"`
	DispatchedAt         time.Time `json:"dispatched_at"`
}

type QueryResponse struct {
	Response   string    `json:"query_response,omitempty"`
	Documents  []string  `json:"uploaded_files,omitempty"`
	AnsweredBy Actor     `json:"answered_by"`
	AnsweredAt time.Time `json:"answered_at"`
}

type Contest struct {
	Reason      string    `json:"contest_reason,omitempty"`
	Documents   []string  `json:"uploaded_files,omitempty"`
	ContestedBy Actor     `json:"contested_by"`
	ContestedAt time.Time `json:"contested_at"`
}

type Processing struct {
	ProcessedBy Actor     `json:"processed_by"`
	Remarks     string    `json:"processing_remarks,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Reevaluation struct {
	Requested   bool      `json:"rm_reevaluation_requested"`
	Remarks     string    `json:"rm_reevaluation_remarks,omitempty"`
	RequestedBy Actor     `json:"rm_reevaluation_requested_by"`
	RequestedAt time.Time `json:"rm_reevaluation_requested_at"`
}

// Claim is the aggregate the lifecycle engine mutates.
type Claim struct {
	ClaimID      string       `json:"claim_id"`
	Status       Status       `json:"claim_status"`
	ReviewStatus ReviewStatus `json:"review_status,omitempty"`
	HospitalID   string       `json:"hospital_id"`
	HospitalName string       `json:"hospital_name"`

	// Denormalized from FormData for filtering.
	PatientName           string          `json:"patient_name"`
	PayerName             string          `json:"payer_name"`
	PayerType             string          `json:"payer_type"`
	ClaimType             string          `json:"claim_type"`
	ClaimedAmount         decimal.Decimal `json:"claimed_amount"`
	TotalAuthorizedAmount decimal.Decimal `json:"total_authorized_amount"`
	ServiceStart          *time.Time      `json:"service_start_date,omitempty"`

	FormData      FormData       `json:"form_data"`
	ReviewData    *ReviewData    `json:"review_data,omitempty"`
	ReviewHistory []ReviewEntry  `json:"review_history,omitempty"`
	RMData        RMData         `json:"rm_data,omitempty"`
	Documents     []Document     `json:"documents,omitempty"`
	Dispatch      *Dispatch      `json:"dispatch,omitempty"`
	QueryResponse *QueryResponse `json:"query,omitempty"`
	Contest       *Contest       `json:"contest,omitempty"`
	Processing    *Processing    `json:"processing,omitempty"`
	Reevaluation  *Reevaluation  `json:"reevaluation,omitempty"`

	RMStatusRaisedDate    string `json:"rm_status_raised_date,omitempty"`
	RMStatusRaisedRemarks string `json:"rm_status_raised_remarks,omitempty"`

	*Lock

	Version   int       `json:"version"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// syncFromForm refreshes the denormalized columns from FormData.
func (c *Claim) syncFromForm() {
	f := c.FormData
	c.PatientName = f.String("patient_name")
	c.PayerName = f.String("payer_name")
	c.PayerType = f.String("payer_type")
	c.ClaimType = f.String("claim_type")
	if d, ok, err := f.Decimal("claimed_amount"); ok && err == nil {
		c.ClaimedAmount = d
	}
	if d, ok, err := f.Decimal("total_authorized_amount"); ok && err == nil {
		c.TotalAuthorizedAmount = d
	}
	if t, err := parseDate(f.String("service_start_date")); err == nil {
		c.ServiceStart = &t
	}
}

func (c *Claim) hasDocument(id string) bool {
	for _, d := range c.Documents {
		if d.ID == id {
			return true
		}
	}
	return false
}

// linkDocuments appends references not already on the claim.
func (c *Claim) linkDocuments(ids []string, by string, at time.Time) {
	for _, id := range ids {
		if id == "" || c.hasDocument(id) {
			continue
		}
		c.Documents = append(c.Documents, Document{ID: id, UploadedBy: by, UploadedAt: at})
	}
}

// Clone returns a deep enough copy for an engine mutation to be discarded on
// failure.
func (c *Claim) Clone() *Claim {
	cp := *c
	cp.FormData = c.FormData.Clone()
	cp.RMData = c.RMData.Merge(nil)
	if c.ReviewData != nil {
		rd := *c.ReviewData
		cp.ReviewData = &rd
	}
	cp.ReviewHistory = append([]ReviewEntry(nil), c.ReviewHistory...)
	cp.Documents = append([]Document(nil), c.Documents...)
	if c.Lock != nil {
		l := *c.Lock
		cp.Lock = &l
	}
	return &cp
}

// ReviewData is the reviewer's running sub-record. Amounts are optional.
type ReviewData struct {
	ReviewerID    string     `json:"reviewer_id,omitempty"`
	ReviewerEmail string     `json:"reviewer_email,omitempty"`
	ReviewerName  string     `json:"reviewer_name,omitempty"`
	Decision      string     `json:"review_decision,omitempty"`
	Remarks       string     `json:"review_remarks,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`

	TotalBillAmount     *decimal.Decimal `json:"total_bill_amount,omitempty"`
	ClaimedAmount       *decimal.Decimal `json:"claimed_amount,omitempty"`
	ApprovedAmount      *decimal.Decimal `json:"approved_amount,omitempty"`
	DisallowedAmount    *decimal.Decimal `json:"disallowed_amount,omitempty"`
	ReviewRequestAmount *decimal.Decimal `json:"review_request_amount,omitempty"`
	PatientPaidAmount   *decimal.Decimal `json:"patient_paid_amount,omitempty"`
	DiscountAmount      *decimal.Decimal `json:"discount_amount,omitempty"`
	ReasonByPayer       string           `json:"reason_by_payer,omitempty"`

	InfoRequestedAt *time.Time `json:"info_requested_at,omitempty"`
	UnderReviewAt   *time.Time `json:"under_review_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	NotFoundAt      *time.Time `json:"not_found_at,omitempty"`

	EscalationReason string     `json:"escalation_reason,omitempty"`
	EscalatedTo      string     `json:"escalated_to,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
}

// Merge layers the set fields of u onto a copy of d. Unset fields in u never
// clear existing values.
func (d *ReviewData) Merge(u ReviewData) *ReviewData {
	var out ReviewData
	if d != nil {
		out = *d
	}
	mergeStr(&out.ReviewerID, u.ReviewerID)
	mergeStr(&out.ReviewerEmail, u.ReviewerEmail)
	mergeStr(&out.ReviewerName, u.ReviewerName)
	mergeStr(&out.Decision, u.Decision)
	mergeStr(&out.Remarks, u.Remarks)
	mergeStr(&out.ReasonByPayer, u.ReasonByPayer)
	mergeStr(&out.EscalationReason, u.EscalationReason)
	mergeStr(&out.EscalatedTo, u.EscalatedTo)

	for _, p := range []struct{ dst, src **time.Time }{
		{&out.ReviewedAt, &u.ReviewedAt},
		{&out.InfoRequestedAt, &u.InfoRequestedAt},
		{&out.UnderReviewAt, &u.UnderReviewAt},
		{&out.CompletedAt, &u.CompletedAt},
		{&out.NotFoundAt, &u.NotFoundAt},
		{&out.EscalatedAt, &u.EscalatedAt},
	} {
		if *p.src != nil {
			*p.dst = *p.src
		}
	}
	for _, p := range []struct{ dst, src **decimal.Decimal }{
		{&out.TotalBillAmount, &u.TotalBillAmount},
		{&out.ClaimedAmount, &u.ClaimedAmount},
		{&out.ApprovedAmount, &u.ApprovedAmount},
		{&out.DisallowedAmount, &u.DisallowedAmount},
		{&out.ReviewRequestAmount, &u.ReviewRequestAmount},
		{&out.PatientPaidAmount, &u.PatientPaidAmount},
		{&out.DiscountAmount, &u.DiscountAmount},
	} {
		if *p.src != nil {
			*p.dst = *p.src
		}
	}
	return &out
}

func mergeStr(dst *string, src string) {
	if strings.TrimSpace(src) != "" {
		*dst = src
	}
}

// ReviewEntry freezes the review record at the moment of a decision.
type ReviewEntry struct {
	ReviewData
	Action string `json:"review_action"`
}

// RMData holds the free-form settlement fields RM users fill in.
type RMData map[string]any

// Merge returns a copy of d with the non-empty keys of u layered on top.
func (d RMData) Merge(u map[string]any) RMData {
	out := make(RMData, len(d)+len(u))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range u {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Draft is an unsubmitted claim form owned by a hospital.
type Draft struct {
	DraftID      string    `json:"draft_id"`
	Status       Status    `json:"claim_status"`
	HospitalID   string    `json:"hospital_id"`
	HospitalName string    `json:"hospital_name"`
	FormData     FormData  `json:"form_data"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TransactionType classifies a transaction log entry.
type TransactionType string

const (
	TxCreated             TransactionType = "CREATED"
	TxSubmitted           TransactionType = "SUBMITTED"
	TxAssigned            TransactionType = "ASSIGNED"
	TxQueried             TransactionType = "QUERIED"
	TxAnswered            TransactionType = "ANSWERED"
	TxApproved            TransactionType = "APPROVED"
	TxRejected            TransactionType = "REJECTED"
	TxCleared             TransactionType = "CLEARED"
	TxDispatched          TransactionType = "DISPATCHED"
	TxUpdated             TransactionType = "UPDATED"
	TxContested           TransactionType = "CONTESTED"
	TxReviewed            TransactionType = "REVIEWED"
	TxReviewStatusUpdated TransactionType = "REVIEW_STATUS_UPDATED"
	TxEscalated           TransactionType = "ESCALATED"
)

// Transaction is one immutable entry of a claim's audit trail.
type Transaction struct {
	TransactionID    string          `json:"transaction_id"`
	ClaimID          string          `json:"claim_id"`
	Type             TransactionType `json:"transaction_type"`
	PerformedBy      string          `json:"performed_by"`
	PerformedByEmail string          `json:"performed_by_email,omitempty"`
	PerformedByName  string          `json:"performed_by_name,omitempty"`
	PerformedByRole  string          `json:"performed_by_role"`
	PerformedAt      time.Time       `json:"performed_at"`
	PreviousStatus   Status          `json:"previous_status,omitempty"`
	NewStatus        Status          `json:"new_status"`
	Remarks          string          `json:"remarks,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}
