package claims

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/notification"
)

type reviewAction struct {
	status ReviewStatus
	tx     TransactionType
	stamp  func(d *ReviewData, at *time.Time)
}

func noStamp(*ReviewData, *time.Time) {}

var reviewActions = map[string]reviewAction{
	"approve":           {ReviewApproved, TxReviewed, noStamp},
	"reject":            {ReviewRejected, TxReviewed, noStamp},
	"request_more_info": {ReviewInfoNeeded, TxReviewed, func(d *ReviewData, at *time.Time) { d.InfoRequestedAt = at }},
	"mark_under_review": {ReviewUnder, TxReviewStatusUpdated, func(d *ReviewData, at *time.Time) { d.UnderReviewAt = at }},
	"complete":          {ReviewCompleted, TxReviewed, func(d *ReviewData, at *time.Time) { d.CompletedAt = at }},
	"reviewed":          {ReviewCompleted, TxReviewed, func(d *ReviewData, at *time.Time) { d.CompletedAt = at }},
	"not_found":         {ReviewRejected, TxReviewed, func(d *ReviewData, at *time.Time) { d.NotFoundAt = at }},
}

// ReviewInput is a reviewer decision. The amounts are only read for the
// "reviewed" action.
type ReviewInput struct {
	Action        string
	Remarks       string
	ReasonByPayer string

	TotalBillAmount     *decimal.Decimal
	ClaimedAmount       *decimal.Decimal
	ApprovedAmount      *decimal.Decimal
	DisallowedAmount    *decimal.Decimal
	ReviewRequestAmount *decimal.Decimal
	PatientPaidAmount   *decimal.Decimal
	DiscountAmount      *decimal.Decimal
}

func (in ReviewInput) amounts(u *ReviewData) error {
	for name, v := range map[string]*decimal.Decimal{
		"total_bill_amount":     in.TotalBillAmount,
		"claimed_amount":        in.ClaimedAmount,
		"approved_amount":       in.ApprovedAmount,
		"disallowed_amount":     in.DisallowedAmount,
		"review_request_amount": in.ReviewRequestAmount,
		"patient_paid_amount":   in.PatientPaidAmount,
		"discount_amount":       in.DiscountAmount,
	} {
		if v != nil && v.IsNegative() {
			return validationf("%s must be 0 or greater", name)
		}
	}
	u.TotalBillAmount = in.TotalBillAmount
	u.ClaimedAmount = in.ClaimedAmount
	u.ApprovedAmount = in.ApprovedAmount
	u.DisallowedAmount = in.DisallowedAmount
	u.ReviewRequestAmount = in.ReviewRequestAmount
	u.PatientPaidAmount = in.PatientPaidAmount
	u.DiscountAmount = in.DiscountAmount
	if u.DisallowedAmount == nil && u.TotalBillAmount != nil && u.ApprovedAmount != nil {
		d := DisallowedAmount(*u.TotalBillAmount, *u.ApprovedAmount)
		u.DisallowedAmount = &d
	}
	return nil
}

// DisallowedAmount is the part of the bill the payer did not approve, never
// negative and rounded to paise.
func DisallowedAmount(bill, approved decimal.Decimal) decimal.Decimal {
	return decimal.Max(bill.Sub(approved), decimal.Zero).Round(2)
}

func reviewer(p *auth.Principal, at time.Time) ReviewData {
	return ReviewData{
		ReviewerID:    p.UserID,
		ReviewerEmail: p.Email,
		ReviewerName:  p.Name,
		ReviewedAt:    &at,
	}
}

// Review records a reviewer decision on a dispatched or reviewed claim.
// Terminal outcomes move the claim to reviewed; the rest only move the
// review track.
func (e *Engine) Review(ctx context.Context, p *auth.Principal, claimID string, in ReviewInput) (*Claim, error) {
	if err := requireRole(p, auth.ReviewRoles); err != nil {
		return nil, err
	}
	action := strings.ToLower(strings.TrimSpace(in.Action))
	act, ok := reviewActions[action]
	if !ok {
		return nil, validationf("Invalid review action %q", in.Action)
	}
	remarks := strings.TrimSpace(in.Remarks)
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, now time.Time) (change, error) {
		if !c.Status.ReviewEligible() {
			return change{}, validationf("Claim is not available for review (current status: %s)", c.Status)
		}
		prev := NormalizeReview(string(c.ReviewStatus))

		u := reviewer(p, now)
		u.Decision = strings.ToUpper(action)
		u.Remarks = remarks
		u.ReasonByPayer = strings.TrimSpace(in.ReasonByPayer)
		act.stamp(&u, &now)
		if action == "reviewed" {
			if err := in.amounts(&u); err != nil {
				return change{}, err
			}
		}
		c.ReviewData = c.ReviewData.Merge(u)
		c.ReviewHistory = append(c.ReviewHistory, ReviewEntry{ReviewData: *c.ReviewData, Action: strings.ToUpper(action)})
		c.ReviewStatus = act.status
		if act.status.Terminal() {
			c.Status = StatusReviewed
		}
		return change{
			Type:    act.tx,
			Remarks: remarks,
			Metadata: map[string]any{
				"review_action":          action,
				"previous_review_status": string(prev),
				"new_review_status":      string(act.status),
			},
			Event: notification.EventReviewed,
		}, nil
	})
}

// EscalateInput hands a claim to a senior reviewer.
type EscalateInput struct {
	Reason      string
	EscalatedTo string
	Remarks     string
}

func (e *Engine) Escalate(ctx context.Context, p *auth.Principal, claimID string, in EscalateInput) (*Claim, error) {
	if err := requireRole(p, auth.ReviewRoles); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, validationf("escalation_reason is required")
	}
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, now time.Time) (change, error) {
		if !c.Status.ReviewEligible() {
			return change{}, validationf("Claim is not available for review (current status: %s)", c.Status)
		}
		prev := NormalizeReview(string(c.ReviewStatus))

		u := reviewer(p, now)
		u.Decision = "ESCALATE"
		u.Remarks = strings.TrimSpace(in.Remarks)
		u.EscalationReason = reason
		u.EscalatedTo = strings.TrimSpace(in.EscalatedTo)
		u.EscalatedAt = &now
		c.ReviewData = c.ReviewData.Merge(u)
		c.ReviewHistory = append(c.ReviewHistory, ReviewEntry{ReviewData: *c.ReviewData, Action: "ESCALATE"})
		c.ReviewStatus = ReviewEscalated
		return change{
			Type:    TxEscalated,
			Remarks: reason,
			Metadata: map[string]any{
				"escalated_to":           u.EscalatedTo,
				"previous_review_status": string(prev),
				"new_review_status":      string(ReviewEscalated),
			},
			Event: notification.EventEscalated,
		}, nil
	})
}

// ReviewQuery selects a review inbox group.
type ReviewQuery struct {
	Group string
	Payer string
	DateRange
	Page
}

func (e *Engine) ReviewInbox(ctx context.Context, p *auth.Principal, q ReviewQuery) ([]*Claim, int, error) {
	if err := requireRole(p, auth.ReviewRoles); err != nil {
		return nil, 0, err
	}
	group, ok := ReviewGroup(q.Group)
	if !ok {
		return nil, 0, validationf("review_status must be one of pending, under_review, completed, all")
	}
	f := ClaimFilter{
		Statuses:       []Status{StatusDispatched, StatusReviewed},
		ReviewStatuses: group,
		PayerName:      q.Payer,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
	q.DateRange.apply(&f)
	scopeFilter(p, &f)
	return e.store.Claims().List(ctx, f)
}

// ReviewStats counts claims per review status and per inbox group.
func (e *Engine) ReviewStats(ctx context.Context, p *auth.Principal, r DateRange) (map[string]int, error) {
	if err := requireRole(p, auth.ReviewRoles); err != nil {
		return nil, err
	}
	f := ClaimFilter{Statuses: []Status{StatusDispatched, StatusReviewed}}
	r.apply(&f)
	scopeFilter(p, &f)
	counts, err := e.store.Claims().CountByReviewStatus(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, s := range allReviewStatuses {
		out[string(s)] = counts[s]
	}
	for _, g := range []string{"pending", "under_review", "completed"} {
		statuses, _ := ReviewGroup(g)
		for _, s := range statuses {
			out[g] += counts[s]
		}
	}
	out["total"] = out["pending"] + out["under_review"] + out["completed"]
	return out, nil
}
