package claims

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/notification"
)

// processorOutcome is what a processor decision does to the audit trail and
// which event it raises.
type processorOutcome struct {
	tx    TransactionType
	event notification.EventType
}

var processorOutcomes = map[Status]processorOutcome{
	StatusQCClear:       {TxCleared, notification.EventQCClear},
	StatusQCQuery:       {TxQueried, notification.EventQCQuery},
	StatusNeedMoreInfo:  {TxQueried, notification.EventNeedMoreInfo},
	StatusClaimApproved: {TxApproved, notification.EventApproved},
	StatusClaimDenial:   {TxRejected, notification.EventDenial},
}

// ProcessInput is a processor decision. Status must already be normalized.
type ProcessInput struct {
	Status  Status
	Remarks string
}

// Process applies a processor decision. The lease is taken, the decision
// applied and the lease released in one write, so a concurrent processor
// either sees the lease and gets a conflict or loses the version check.
func (e *Engine) Process(ctx context.Context, p *auth.Principal, claimID string, in ProcessInput) (*Claim, error) {
	if err := requireRole(p, auth.ProcessorRoles); err != nil {
		return nil, err
	}
	out, ok := processorOutcomes[in.Status]
	if !ok {
		return nil, validationf("Invalid status %q; must be one of qc_clear, qc_query, claim_approved, claim_denial, need_more_info", in.Status)
	}
	remarks := strings.TrimSpace(in.Remarks)
	actor := ActorFrom(p)
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, now time.Time) (change, error) {
		if !c.Status.ProcessorActionable() {
			return change{}, validationf("Claim cannot be processed from status %s", c.Status)
		}
		if err := e.locks.Acquire(c, actor); err != nil {
			return change{}, err
		}
		c.Status = in.Status
		c.Processing = &Processing{ProcessedBy: actor, Remarks: remarks, ProcessedAt: now}
		if err := e.locks.Release(c, actor); err != nil {
			return change{}, err
		}
		return change{Type: out.tx, Remarks: remarks, Event: out.event}, nil
	})
}

// BulkResult reports a bulk decision per claim.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// BulkProcess applies the same decision to each claim independently.
// Unexpected errors stop the batch; expected ones are reported per id.
func (e *Engine) BulkProcess(ctx context.Context, p *auth.Principal, claimIDs []string, in ProcessInput) (*BulkResult, error) {
	if len(claimIDs) == 0 {
		return nil, validationf("claim_ids must not be empty")
	}
	res := &BulkResult{Succeeded: []string{}, Failed: map[string]string{}}
	for _, id := range claimIDs {
		_, err := e.Process(ctx, p, id, in)
		switch {
		case err == nil:
			res.Succeeded = append(res.Succeeded, id)
		case isExpected(err):
			res.Failed[id] = err.Error()
		default:
			return nil, err
		}
	}
	return res, nil
}

func isExpected(err error) bool {
	for _, k := range []error{ErrValidation, ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrConflict} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// InboxQuery selects a tab of a processor or RM inbox.
type InboxQuery struct {
	Tab   string
	Payer string
	DateRange
	Page
}

// ProcessorInbox lists claims on a tab within the caller's scope. Claims above
// the caller's approval ceiling never appear.
func (e *Engine) ProcessorInbox(ctx context.Context, p *auth.Principal, q InboxQuery) ([]*Claim, int, error) {
	if err := requireRole(p, auth.ProcessorRoles); err != nil {
		return nil, 0, err
	}
	statuses, ok := ProcessorTab(q.Tab)
	if !ok {
		return nil, 0, validationf("tab must be unprocessed or processed")
	}
	f := ClaimFilter{
		Statuses:        statuses,
		ExcludeStatuses: []Status{StatusDraft},
		PayerName:       q.Payer,
		Limit:           q.Limit,
		Offset:          q.Offset,
	}
	q.DateRange.apply(&f)
	scopeFilter(p, &f)
	return e.store.Claims().List(ctx, f)
}

// ProcessorStats counts the caller's visible claims per processor status.
func (e *Engine) ProcessorStats(ctx context.Context, p *auth.Principal, r DateRange) (map[string]int, error) {
	if err := requireRole(p, auth.ProcessorRoles); err != nil {
		return nil, err
	}
	all := append(append([]Status{}, ProcessorUnprocessed...), ProcessorProcessed...)
	f := ClaimFilter{Statuses: all}
	r.apply(&f)
	scopeFilter(p, &f)
	counts, err := e.store.Claims().CountByStatus(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(all)+3)
	for _, s := range all {
		out[string(s)] = counts[s]
	}
	for _, s := range ProcessorUnprocessed {
		out["unprocessed"] += counts[s]
	}
	for _, s := range ProcessorProcessed {
		out["processed"] += counts[s]
	}
	out["total"] = out["unprocessed"] + out["processed"]
	return out, nil
}

// CheckLock reports the lease on a claim. An expired lease found here is
// cleared on the spot.
func (e *Engine) CheckLock(ctx context.Context, p *auth.Principal, claimID string) (LockState, error) {
	if err := requireRole(p, auth.ProcessorRoles); err != nil {
		return LockState{}, err
	}
	c, err := e.GetClaim(ctx, p, claimID)
	if err != nil {
		return LockState{}, err
	}
	if c.Lock != nil && e.locks.Expired(c.Lock, e.now()) {
		if _, err := e.clearExpiredLock(ctx, claimID); err != nil {
			e.logger.Warn().Err(err).Str("claim_id", claimID).Msg("clear expired lock")
		}
	}
	return e.locks.Inspect(c, ActorFrom(p)), nil
}

// LockClaim takes or renews the caller's lease for a longer session. The
// claim status does not change, the ASSIGNED entry records who took it.
func (e *Engine) LockClaim(ctx context.Context, p *auth.Principal, claimID string) (LockState, error) {
	if err := requireRole(p, auth.ProcessorRoles); err != nil {
		return LockState{}, err
	}
	actor := ActorFrom(p)
	c, err := e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, _ time.Time) (change, error) {
		if !c.Status.ProcessorActionable() {
			return change{}, validationf("Claim cannot be locked in status %s", c.Status)
		}
		if err := e.locks.Acquire(c, actor); err != nil {
			return change{}, err
		}
		return change{
			Type:     TxAssigned,
			Remarks:  "Claim locked for processing",
			Metadata: map[string]any{"lock_expires_at": c.Lock.ExpiresAt},
		}, nil
	})
	if err != nil {
		return LockState{}, err
	}
	return e.locks.Inspect(c, actor), nil
}

// UnlockClaim releases the caller's lease. It is not a transition and leaves
// no audit entry.
func (e *Engine) UnlockClaim(ctx context.Context, p *auth.Principal, claimID string) (LockState, error) {
	if err := requireRole(p, auth.ProcessorRoles); err != nil {
		return LockState{}, err
	}
	actor := ActorFrom(p)
	var out *Claim
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		c, err := e.store.Claims().Get(ctx, claimID)
		if err != nil {
			return err
		}
		if err := e.authorize(p, c); err != nil {
			return err
		}
		if c.Lock == nil {
			out = c
			return nil
		}
		if err := e.locks.Release(c, actor); err != nil {
			return err
		}
		c.UpdatedAt = e.now()
		out = c
		return e.store.Claims().Update(ctx, c)
	})
	if err != nil {
		return LockState{}, err
	}
	return e.locks.Inspect(out, actor), nil
}

func (e *Engine) clearExpiredLock(ctx context.Context, claimID string) (bool, error) {
	var cleared bool
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		c, err := e.store.Claims().Get(ctx, claimID)
		if err != nil {
			return err
		}
		if c.Lock == nil || !e.locks.Expired(c.Lock, e.now()) {
			return nil
		}
		c.Lock = nil
		c.UpdatedAt = e.now()
		if err := e.store.Claims().Update(ctx, c); err != nil {
			return err
		}
		cleared = true
		return nil
	})
	return cleared, err
}

// CleanupExpiredLocks clears every lease whose expiry has passed and returns
// how many were cleared. A claim updated concurrently is skipped.
func (e *Engine) CleanupExpiredLocks(ctx context.Context) (int, error) {
	stale, err := e.store.Claims().ListExpiredLocks(ctx, e.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range stale {
		cleared, err := e.clearExpiredLock(ctx, c.ClaimID)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return n, err
		}
		if cleared {
			n++
		}
	}
	e.logger.Info().Int("cleared", n).Int("found", len(stale)).Msg("expired claim locks cleaned up")
	return n, nil
}
