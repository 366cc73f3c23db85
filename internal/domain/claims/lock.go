package claims

import (
	"time"
)

// DefaultLockTTL is how long a processor lease lasts without renewal.
const DefaultLockTTL = 2 * time.Hour

// Clock returns the current time. Lock comparisons always happen in UTC.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

// LockManager grants and releases processor leases on claims. It only mutates
// the claim value; persisting it is the caller's job.
type LockManager struct {
	ttl time.Duration
	now Clock
}

func NewLockManager(ttl time.Duration, now Clock) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if now == nil {
		now = SystemClock
	}
	return &LockManager{ttl: ttl, now: now}
}

func (m *LockManager) TTL() time.Duration { return m.ttl }

func (m *LockManager) Now() time.Time { return m.now().UTC() }

// Expired reports whether l no longer excludes other processors.
func (m *LockManager) Expired(l *Lock, now time.Time) bool {
	return l == nil || !now.UTC().Before(l.ExpiresAt.UTC())
}

// Acquire takes or renews the lease for a. An expired lease held by someone
// else is reclaimed.
func (m *LockManager) Acquire(c *Claim, a Actor) error {
	now := m.Now()
	if c.Lock != nil && c.Lock.ProcessorID != a.ID && !m.Expired(c.Lock, now) {
		return &LockConflictError{
			ClaimID:     c.ClaimID,
			HolderID:    c.Lock.ProcessorID,
			HolderEmail: c.Lock.ProcessorEmail,
			HolderName:  c.Lock.ProcessorName,
			LockedAt:    c.Lock.LockedAt,
			ExpiresAt:   c.Lock.ExpiresAt,
		}
	}
	c.Lock = &Lock{
		ProcessorID:    a.ID,
		ProcessorEmail: a.Email,
		ProcessorName:  a.Name,
		LockedAt:       now,
		ExpiresAt:      now.Add(m.ttl),
	}
	return nil
}

// Release drops the lease. Only the holder may release a live lease; an
// expired one counts as already released and is cleared for anyone.
func (m *LockManager) Release(c *Claim, a Actor) error {
	if c.Lock == nil {
		return nil
	}
	if c.Lock.ProcessorID != a.ID && !m.Expired(c.Lock, m.Now()) {
		return forbiddenf("claim %s is locked by another processor", c.ClaimID)
	}
	c.Lock = nil
	return nil
}

// LockState is what check-claim-lock reports to a processor.
type LockState struct {
	ClaimID       string     `json:"claim_id"`
	Locked        bool       `json:"is_locked"`
	HeldByYou     bool       `json:"locked_by_you"`
	LockedBy      string     `json:"locked_by,omitempty"`
	LockedByEmail string     `json:"locked_by_email,omitempty"`
	LockedByName  string     `json:"locked_by_name,omitempty"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	ExpiresAt     *time.Time `json:"lock_expires_at,omitempty"`
	Expired       bool       `json:"lock_expired,omitempty"`
}

func (m *LockManager) Inspect(c *Claim, a Actor) LockState {
	st := LockState{ClaimID: c.ClaimID}
	if c.Lock == nil {
		return st
	}
	if m.Expired(c.Lock, m.Now()) {
		st.Expired = true
		return st
	}
	lockedAt, expiresAt := c.Lock.LockedAt, c.Lock.ExpiresAt
	st.Locked = true
	st.HeldByYou = c.Lock.ProcessorID == a.ID
	st.LockedBy = c.Lock.ProcessorID
	st.LockedByEmail = c.Lock.ProcessorEmail
	st.LockedByName = c.Lock.ProcessorName
	st.LockedAt = &lockedAt
	st.ExpiresAt = &expiresAt
	return st
}
