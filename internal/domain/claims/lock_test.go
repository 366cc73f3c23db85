package claims

import (
	"errors"
	"testing"
	"time"
)

func TestLockManager_AcquireRelease(t *testing.T) {
	clock := newFakeClock()
	m := NewLockManager(time.Hour, clock.Now)
	c := &Claim{ClaimID: "C1"}
	a := Actor{ID: "p1", Name: "One"}
	b := Actor{ID: "p2", Name: "Two"}

	if err := m.Acquire(c, a); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if c.Lock.ExpiresAt != testNow.Add(time.Hour) {
		t.Errorf("unexpected expiry %v", c.Lock.ExpiresAt)
	}

	// Re-acquire by the holder renews.
	clock.Advance(10 * time.Minute)
	if err := m.Acquire(c, a); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if c.Lock.ExpiresAt != testNow.Add(70*time.Minute) {
		t.Errorf("lease not renewed: %v", c.Lock.ExpiresAt)
	}

	err := m.Acquire(c, b)
	var lc *LockConflictError
	if !errors.As(err, &lc) || lc.HolderName != "One" {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Error("lock conflict should match ErrConflict")
	}

	if err := m.Release(c, b); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected forbidden release, got %v", err)
	}
	if err := m.Release(c, a); err != nil || c.Lock != nil {
		t.Errorf("release: %v, lock %v", err, c.Lock)
	}
	if err := m.Release(c, b); err != nil {
		t.Errorf("releasing an unlocked claim should be a no-op: %v", err)
	}
}

func TestLockManager_ExpiredLockReclaimed(t *testing.T) {
	clock := newFakeClock()
	m := NewLockManager(time.Hour, clock.Now)
	c := &Claim{ClaimID: "C1"}
	if err := m.Acquire(c, Actor{ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)
	if !m.Expired(c.Lock, clock.Now()) {
		t.Fatal("lock should be expired exactly at its expiry")
	}
	if err := m.Acquire(c, Actor{ID: "p2"}); err != nil {
		t.Fatalf("expired lock should be reclaimed: %v", err)
	}
	if c.Lock.ProcessorID != "p2" {
		t.Errorf("holder = %s", c.Lock.ProcessorID)
	}
}

func TestLockManager_ExpiredLockReleasedByAnyone(t *testing.T) {
	clock := newFakeClock()
	m := NewLockManager(time.Hour, clock.Now)
	c := &Claim{ClaimID: "C1"}
	if err := m.Acquire(c, Actor{ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour + time.Minute)
	if err := m.Release(c, Actor{ID: "p2"}); err != nil {
		t.Fatalf("expired lease should not block release: %v", err)
	}
	if c.Lock != nil {
		t.Errorf("lock not cleared: %+v", c.Lock)
	}
}

func TestLockManager_ComparesInUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	clock := func() time.Time { return testNow.In(ist) }
	m := NewLockManager(time.Hour, clock)
	l := &Lock{ProcessorID: "p1", LockedAt: testNow, ExpiresAt: testNow.Add(30 * time.Minute)}
	if m.Expired(l, clock()) {
		t.Error("a lock expiring in 30 minutes must not look expired from another zone")
	}
}

func TestLockManager_Inspect(t *testing.T) {
	clock := newFakeClock()
	m := NewLockManager(time.Hour, clock.Now)
	c := &Claim{ClaimID: "C1"}
	if st := m.Inspect(c, Actor{ID: "p1"}); st.Locked {
		t.Error("unlocked claim reported locked")
	}
	_ = m.Acquire(c, Actor{ID: "p1", Email: "p1@x"})
	st := m.Inspect(c, Actor{ID: "p1"})
	if !st.Locked || !st.HeldByYou || st.LockedByEmail != "p1@x" {
		t.Errorf("unexpected state %+v", st)
	}
	clock.Advance(2 * time.Hour)
	st = m.Inspect(c, Actor{ID: "p2"})
	if st.Locked || !st.Expired {
		t.Errorf("expected expired state, got %+v", st)
	}
}
