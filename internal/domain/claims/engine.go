package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/docstore"
	"github.com/medclaims/claims/internal/platform/notification"
)

// Notifier receives lifecycle events after commit. It must not block.
type Notifier interface {
	Notify(ctx context.Context, ev notification.Event)
}

// Recorder counts committed transitions and lock conflicts.
type Recorder interface {
	TransitionRecorded(txType, role string)
	LockConflict()
}

// Engine applies role-partitioned claim transitions. Each mutation loads the
// claim, checks scope and guards, writes the claim with a version check and
// appends one transaction, all in one store transaction. Notifications go out
// only after commit.
type Engine struct {
	store  Store
	txlog  *TransactionLog
	locks  *LockManager
	docs   docstore.Verifier
	notify Notifier
	rec    Recorder
	now    Clock
	ttl    time.Duration
	logger zerolog.Logger
}

type Option func(*Engine)

func WithClock(now Clock) Option { return func(e *Engine) { e.now = now } }

func WithLockTTL(ttl time.Duration) Option { return func(e *Engine) { e.ttl = ttl } }

func WithDocuments(v docstore.Verifier) Option { return func(e *Engine) { e.docs = v } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notify = n } }

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.rec = r } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		now:    SystemClock,
		ttl:    DefaultLockTTL,
		docs:   docstore.NopVerifier{},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	utc := e.now
	e.now = func() time.Time { return utc().UTC() }
	e.locks = NewLockManager(e.ttl, e.now)
	e.txlog = NewTransactionLog(store.Transactions(), e.now)
	return e
}

func (e *Engine) Locks() *LockManager { return e.locks }

// change is what a mutation reports back for the audit trail.
type change struct {
	Type     TransactionType
	Remarks  string
	Metadata map[string]any
	Event    notification.EventType
}

type mutation func(ctx context.Context, c *Claim, now time.Time) (change, error)

func (e *Engine) mutate(ctx context.Context, p *auth.Principal, claimID string, fn mutation) (*Claim, error) {
	var (
		out *Claim
		ch  change
	)
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		c, err := e.store.Claims().Get(ctx, claimID)
		if err != nil {
			return err
		}
		if err := e.authorize(p, c); err != nil {
			return err
		}
		prev := c.Status
		now := e.now()
		if ch, err = fn(ctx, c, now); err != nil {
			return err
		}
		c.UpdatedAt = now
		if err := e.store.Claims().Update(ctx, c); err != nil {
			return err
		}
		if _, err := e.txlog.Record(ctx, TxEntry{
			ClaimID:        c.ClaimID,
			Type:           ch.Type,
			Actor:          ActorFrom(p),
			PreviousStatus: prev,
			NewStatus:      c.Status,
			Remarks:        ch.Remarks,
			Metadata:       ch.Metadata,
		}); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		e.observeFailure(err)
		return nil, err
	}
	e.committed(ctx, p, out, ch)
	return out, nil
}

func (e *Engine) observeFailure(err error) {
	var lc *LockConflictError
	if errors.As(err, &lc) && e.rec != nil {
		e.rec.LockConflict()
	}
}

func (e *Engine) committed(ctx context.Context, p *auth.Principal, c *Claim, ch change) {
	if e.rec != nil {
		e.rec.TransitionRecorded(string(ch.Type), p.Role)
	}
	e.logger.Info().
		Str("claim_id", c.ClaimID).
		Str("transaction_type", string(ch.Type)).
		Str("claim_status", string(c.Status)).
		Str("user_id", p.UserID).
		Str("role", p.Role).
		Msg("claim transition")

	if ch.Event == "" || e.notify == nil {
		return
	}
	e.notify.Notify(context.WithoutCancel(ctx), notification.Event{
		ClaimID:       c.ClaimID,
		Event:         ch.Event,
		HospitalID:    c.HospitalID,
		HospitalName:  c.HospitalName,
		PatientName:   c.PatientName,
		ClaimedAmount: c.ClaimedAmount,
		PayerName:     c.PayerName,
		Actor:         notification.Actor{ID: p.UserID, Role: p.Role, Name: p.Name, Email: p.Email},
		OccurredAt:    e.now(),
	})
}

// requireRole re-checks the route guard inside the engine. The block-list
// wins over every group.
func requireRole(p *auth.Principal, groups ...[]string) error {
	if p == nil {
		return &Error{Kind: ErrUnauthenticated, Msg: "authentication required"}
	}
	if auth.IsBlocked(p.Role) {
		return forbiddenf("administrators cannot access the claims module")
	}
	for _, g := range groups {
		if auth.InGroup(p.Role, g) {
			return nil
		}
	}
	return forbiddenf("role %q is not permitted to perform this action", p.Role)
}

// authorize checks that the claim lies inside the caller's entity scope.
func (e *Engine) authorize(p *auth.Principal, c *Claim) error {
	if err := requireRole(p, auth.ClaimsRoles); err != nil {
		return err
	}
	if auth.NormalizeRole(p.Role) == auth.RoleHospitalUser {
		if p.Scope.HospitalID == "" {
			return forbiddenf("no hospital is assigned to this user")
		}
		if c.HospitalID != p.Scope.HospitalID {
			return forbiddenf("claim belongs to a different hospital")
		}
		return nil
	}
	if !p.Scope.AllowsHospital(c.HospitalID, c.HospitalName) {
		return forbiddenf("claim hospital is outside your assignments")
	}
	if !p.Scope.AllowsPayer(c.PayerName) {
		return forbiddenf("claim payer is outside your assignments")
	}
	if auth.IsProcessor(p.Role) && !p.Scope.WithinCeiling(c.ClaimedAmount) {
		return forbiddenf("claimed amount %s exceeds your approval limit of %s",
			c.ClaimedAmount.StringFixed(2), p.Scope.Ceiling.StringFixed(2))
	}
	return nil
}

// scopeFilter applies the caller's assignments to a listing filter.
func scopeFilter(p *auth.Principal, f *ClaimFilter) {
	if auth.NormalizeRole(p.Role) == auth.RoleHospitalUser {
		f.HospitalIDs = []string{p.Scope.HospitalID}
		return
	}
	for _, h := range p.Scope.Hospitals {
		if h.ID != "" {
			f.HospitalIDs = append(f.HospitalIDs, h.ID)
		}
		if h.Name != "" {
			f.HospitalNames = append(f.HospitalNames, h.Name)
		}
	}
	f.PayerSubstrings = p.Scope.PayerNames()
	if auth.IsProcessor(p.Role) && p.Scope.Ceiling != nil {
		ceiling := *p.Scope.Ceiling
		f.MaxClaimedAmount = &ceiling
	}
}

// GetClaim returns a claim the caller is allowed to see.
func (e *Engine) GetClaim(ctx context.Context, p *auth.Principal, claimID string) (*Claim, error) {
	c, err := e.store.Claims().Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(p, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListTransactions returns the claim's audit trail, newest first.
func (e *Engine) ListTransactions(ctx context.Context, p *auth.Principal, claimID string, limit int) ([]*Transaction, error) {
	if _, err := e.GetClaim(ctx, p, claimID); err != nil {
		return nil, err
	}
	return e.txlog.List(ctx, claimID, limit)
}

// verifyDocuments runs before the store transaction; it does network I/O.
func (e *Engine) verifyDocuments(ctx context.Context, ids []string) error {
	err := docstore.VerifyAll(ctx, e.docs, ids)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrDocumentNotFound):
		return notFoundf("%s", err.Error())
	case errors.Is(err, docstore.ErrInvalidID):
		return validationf("%s", err.Error())
	}
	return fmt.Errorf("verify documents: %w", err)
}

// DateRange bounds listings by creation time. To is exclusive.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (r DateRange) apply(f *ClaimFilter) {
	f.From, f.To = r.From, r.To
}

// Page is limit/offset paging for engine listings.
type Page struct {
	Limit  int
	Offset int
}
