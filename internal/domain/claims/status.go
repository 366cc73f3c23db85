package claims

import "strings"

// Status is the canonical lower_snake form of a claim status. The processor,
// hospital and RM workflows share this vocabulary.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusQCPending      Status = "qc_pending"
	StatusQCQuery        Status = "qc_query"
	StatusQCAnswered     Status = "qc_answered"
	StatusQCClear        Status = "qc_clear"
	StatusNeedMoreInfo   Status = "need_more_info"
	StatusClaimApproved  Status = "claim_approved"
	StatusClaimDenial    Status = "claim_denial"
	StatusClaimContested Status = "claim_contested"
	StatusDispatched     Status = "dispatched"
	StatusReviewed       Status = "reviewed"

	// Settlement statuses owned by RM and reconcilers.
	StatusReceived           Status = "received"
	StatusQueryRaised        Status = "query_raised"
	StatusRepudiated         Status = "repudiated"
	StatusSettled            Status = "settled"
	StatusApproved           Status = "approved"
	StatusPartiallySettled   Status = "partially_settled"
	StatusReconciliation     Status = "reconciliation"
	StatusBankReconciliation Status = "bank_reconciliation"
	StatusInProgress         Status = "in_progress"
	StatusCancelled          Status = "cancelled"
	StatusClosed             Status = "closed"
	StatusNotFound           Status = "not_found"
)

// Normalize canonicalizes a status string received at the HTTP boundary.
func Normalize(s string) Status {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "-", "_")
	if n == "inprogress" {
		n = string(StatusInProgress)
	}
	return Status(n)
}

// NormalizeRM is Normalize with the RM default for an empty value.
func NormalizeRM(s string) Status {
	if strings.TrimSpace(s) == "" {
		return StatusReceived
	}
	return Normalize(s)
}

var rmLabels = []struct {
	status Status
	label  string
}{
	{StatusReceived, "Received"},
	{StatusQueryRaised, "Query Raised"},
	{StatusRepudiated, "Repudiated"},
	{StatusSettled, "Settled"},
	{StatusApproved, "Approved"},
	{StatusPartiallySettled, "Partially Settled"},
	{StatusReconciliation, "Reconciliation"},
	{StatusBankReconciliation, "Bank Reconciliation"},
	{StatusInProgress, "In Progress"},
	{StatusCancelled, "Cancelled"},
	{StatusClosed, "Closed"},
	{StatusNotFound, "Not Found"},
}

// RMStatuses lists the statuses an RM update may set, in display order.
func RMStatuses() []Status {
	out := make([]Status, len(rmLabels))
	for i, l := range rmLabels {
		out[i] = l.status
	}
	return out
}

func (s Status) IsRM() bool {
	for _, l := range rmLabels {
		if l.status == s {
			return true
		}
	}
	return false
}

// Label returns the human readable form shown to RM users.
func (s Status) Label() string {
	for _, l := range rmLabels {
		if l.status == s {
			return l.label
		}
	}
	switch s {
	case StatusDispatched:
		return "Dispatched"
	case StatusReviewed:
		return "Reviewed"
	}
	words := strings.Split(string(s), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// IsSettlement reports whether s is in the RM settled tab.
func (s Status) IsSettlement() bool {
	switch s {
	case StatusSettled, StatusPartiallySettled, StatusReconciliation, StatusApproved:
		return true
	}
	return false
}

// RMEligible reports whether an RM may act on a claim in status s.
func (s Status) RMEligible() bool {
	return s == StatusDispatched || s == StatusReviewed || s.IsRM()
}

// ProcessorActionable lists the statuses a processor may decide on.
func (s Status) ProcessorActionable() bool {
	switch s {
	case StatusQCPending, StatusNeedMoreInfo, StatusQCAnswered:
		return true
	}
	return false
}

// ReviewEligible reports whether the review team may act on s.
func (s Status) ReviewEligible() bool {
	return s == StatusDispatched || s == StatusReviewed
}

// Processor inbox tabs.
var (
	ProcessorUnprocessed = []Status{StatusQCPending, StatusNeedMoreInfo, StatusQCAnswered}
	ProcessorProcessed   = []Status{StatusQCQuery, StatusQCClear, StatusClaimApproved, StatusClaimDenial}
)

// ProcessorTab returns the statuses shown on a processor inbox tab.
func ProcessorTab(tab string) ([]Status, bool) {
	switch strings.ToLower(strings.TrimSpace(tab)) {
	case "", "unprocessed":
		return ProcessorUnprocessed, true
	case "processed":
		return ProcessorProcessed, true
	}
	return nil, false
}

// RMTab returns the statuses shown on an RM inbox tab. A nil slice means no
// status filter.
func RMTab(tab string) ([]Status, bool) {
	switch strings.ToLower(strings.TrimSpace(tab)) {
	case "", "active":
		return []Status{StatusDispatched, StatusReviewed}, true
	case "settled":
		return []Status{StatusSettled, StatusPartiallySettled, StatusReconciliation, StatusApproved}, true
	case "all":
		return nil, true
	}
	return nil, false
}

// ReviewStatus is the review team's own track, kept apart from claim_status.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "REVIEW PENDING"
	ReviewUnder      ReviewStatus = "UNDER REVIEW"
	ReviewApproved   ReviewStatus = "REVIEW APPROVED"
	ReviewRejected   ReviewStatus = "REVIEW REJECTED"
	ReviewInfoNeeded ReviewStatus = "ADDITIONAL INFO NEEDED"
	ReviewEscalated  ReviewStatus = "ESCALATED"
	ReviewCompleted  ReviewStatus = "REVIEW COMPLETED"
)

var allReviewStatuses = []ReviewStatus{
	ReviewPending, ReviewUnder, ReviewApproved, ReviewRejected,
	ReviewInfoNeeded, ReviewEscalated, ReviewCompleted,
}

// NormalizeReview upper-cases and treats underscores as spaces. Empty means
// pending.
func NormalizeReview(s string) ReviewStatus {
	n := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	if n == "" {
		return ReviewPending
	}
	return ReviewStatus(n)
}

// Terminal review outcomes move the claim itself to reviewed.
func (r ReviewStatus) Terminal() bool {
	return r == ReviewApproved || r == ReviewRejected || r == ReviewCompleted
}

// ReviewGroup returns the review statuses behind an inbox filter.
func ReviewGroup(group string) ([]ReviewStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(group)) {
	case "pending":
		return []ReviewStatus{ReviewPending}, true
	case "under_review":
		return []ReviewStatus{ReviewUnder, ReviewInfoNeeded, ReviewEscalated}, true
	case "completed":
		return []ReviewStatus{ReviewApproved, ReviewRejected, ReviewCompleted}, true
	case "", "all":
		return allReviewStatuses, true
	}
	return nil, false
}
