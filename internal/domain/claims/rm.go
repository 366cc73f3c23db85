package claims

import (
	"context"
	"strings"
	"time"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/notification"
)

// RMUpdateInput is a settlement status change. Status must already be
// normalized; Data is merged into the claim's rm_data.
type RMUpdateInput struct {
	Status              Status
	StatusRaisedDate    string
	StatusRaisedRemarks string
	Data                map[string]any
}

// UpdateRM moves a dispatched, reviewed or settlement-track claim to another
// RM status. A reconciler may only take a settled claim to bank
// reconciliation.
func (e *Engine) UpdateRM(ctx context.Context, p *auth.Principal, claimID string, in RMUpdateInput) (*Claim, error) {
	if err := requireRole(p, auth.RMRoles); err != nil {
		return nil, err
	}
	if !in.Status.IsRM() {
		return nil, validationf("Invalid RM status %q", in.Status)
	}
	reconciler := auth.NormalizeRole(p.Role) == auth.RoleReconciler
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, _ time.Time) (change, error) {
		if !c.Status.RMEligible() {
			return change{}, validationf("Claim is not available for settlement updates (current status: %s)", c.Status)
		}
		if reconciler && c.Status == StatusSettled && in.Status != StatusBankReconciliation {
			return change{}, validationf("For settled claims, reconcilers can only change status to Bank Reconciliation")
		}
		c.Status = in.Status
		c.RMData = c.RMData.Merge(in.Data)
		if d := strings.TrimSpace(in.StatusRaisedDate); d != "" {
			if _, err := parseDate(d); err != nil {
				return change{}, validationf("status_raised_date is not a valid date")
			}
			c.RMStatusRaisedDate = d
		}
		if r := strings.TrimSpace(in.StatusRaisedRemarks); r != "" {
			c.RMStatusRaisedRemarks = r
		}
		return change{
			Type:    TxUpdated,
			Remarks: strings.TrimSpace(in.StatusRaisedRemarks),
			Metadata: map[string]any{
				"rm_action":    "update",
				"rm_data":      in.Data,
				"status_label": in.Status.Label(),
			},
			Event: notification.EventRMUpdated,
		}, nil
	})
}

// Reevaluate sends a claim back to in_progress, replacing any earlier RM
// outcome.
func (e *Engine) Reevaluate(ctx context.Context, p *auth.Principal, claimID, remarks string) (*Claim, error) {
	if err := requireRole(p, auth.RMRoles); err != nil {
		return nil, err
	}
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return nil, validationf("remarks are required to request re-evaluation")
	}
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, now time.Time) (change, error) {
		if !c.Status.RMEligible() {
			return change{}, validationf("Claim is not available for re-evaluation (current status: %s)", c.Status)
		}
		c.Status = StatusInProgress
		c.Reevaluation = &Reevaluation{
			Requested:   true,
			Remarks:     remarks,
			RequestedBy: ActorFrom(p),
			RequestedAt: now,
		}
		return change{
			Type:     TxUpdated,
			Remarks:  "Re-evaluation requested: " + remarks,
			Metadata: map[string]any{"rm_action": "reevaluate"},
			Event:    notification.EventRMUpdated,
		}, nil
	})
}

// RMItem is a claim as listed to RM users.
type RMItem struct {
	*Claim
	StatusLabel string `json:"claim_status_label"`
}

func (e *Engine) RMInbox(ctx context.Context, p *auth.Principal, q InboxQuery) ([]RMItem, int, error) {
	if err := requireRole(p, auth.RMRoles); err != nil {
		return nil, 0, err
	}
	statuses, ok := RMTab(q.Tab)
	if !ok {
		return nil, 0, validationf("tab must be one of active, settled, all")
	}
	if statuses == nil {
		statuses = rmVisible()
	}
	f := ClaimFilter{Statuses: statuses, PayerName: q.Payer, Limit: q.Limit, Offset: q.Offset}
	q.DateRange.apply(&f)
	scopeFilter(p, &f)
	claims, total, err := e.store.Claims().List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	items := make([]RMItem, len(claims))
	for i, c := range claims {
		items[i] = RMItem{Claim: c, StatusLabel: c.Status.Label()}
	}
	return items, total, nil
}

// rmVisible is every status that can appear on an RM inbox.
func rmVisible() []Status {
	return append([]Status{StatusDispatched, StatusReviewed}, RMStatuses()...)
}

// RMStats counts the caller's visible claims per RM status label.
func (e *Engine) RMStats(ctx context.Context, p *auth.Principal, r DateRange) (map[string]int, error) {
	if err := requireRole(p, auth.RMRoles); err != nil {
		return nil, err
	}
	all := rmVisible()
	f := ClaimFilter{Statuses: all}
	r.apply(&f)
	scopeFilter(p, &f)
	counts, err := e.store.Claims().CountByStatus(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(all)+2)
	for _, s := range all {
		out[string(s)] = counts[s]
		out["total"] += counts[s]
		if s.IsSettlement() {
			out["settled_total"] += counts[s]
		}
	}
	return out, nil
}
