package claims

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/notification"
)

// -- In-memory Store --

// memStore mimics the pg store closely enough for engine tests: version
// checks on update and rollback of writes when the InTx callback fails.
type memStore struct {
	mu     sync.Mutex
	claims map[string]*Claim
	txs    []*Transaction
	drafts map[string]*Draft

	// afterGet runs after every claim read, outside the lock.
	afterGet func()
	// appendErr makes every transaction append fail.
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{claims: map[string]*Claim{}, drafts: map[string]*Draft{}}
}

func (s *memStore) Claims() ClaimRepository             { return memClaims{s} }
func (s *memStore) Transactions() TransactionRepository { return memTxs{s} }
func (s *memStore) Drafts() DraftRepository             { return memDrafts{s} }

type undoKey struct{}

type undoLog struct{ fns []func() }

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	u := &undoLog{}
	err := fn(context.WithValue(ctx, undoKey{}, u))
	if err != nil {
		s.mu.Lock()
		for i := len(u.fns) - 1; i >= 0; i-- {
			u.fns[i]()
		}
		s.mu.Unlock()
	}
	return err
}

// onRollback must be called with s.mu held.
func onRollback(ctx context.Context, f func()) {
	if u, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		u.fns = append(u.fns, f)
	}
}

// seed stores c as-is, bypassing the engine.
func (s *memStore) seed(c *Claim) *Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Version == 0 {
		c.Version = 1
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = testNow
	}
	s.claims[c.ClaimID] = c.Clone()
	return c
}

func (s *memStore) claim(id string) *Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[id]; ok {
		return c.Clone()
	}
	return nil
}

func (s *memStore) transactions(claimID string) []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transaction
	for _, t := range s.txs {
		if t.ClaimID == claimID {
			out = append(out, t)
		}
	}
	return out
}

type memClaims struct{ s *memStore }

func (r memClaims) Create(ctx context.Context, c *Claim) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.claims[c.ClaimID]; ok {
		return fmt.Errorf("claim %s: %w", c.ClaimID, errDuplicateID)
	}
	c.Version = 1
	r.s.claims[c.ClaimID] = c.Clone()
	id := c.ClaimID
	onRollback(ctx, func() { delete(r.s.claims, id) })
	return nil
}

func (r memClaims) Get(_ context.Context, claimID string) (*Claim, error) {
	r.s.mu.Lock()
	c, ok := r.s.claims[claimID]
	if ok {
		c = c.Clone()
	}
	hook := r.s.afterGet
	r.s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return nil, notFoundf("Claim not found")
	}
	return c, nil
}

func (r memClaims) Update(ctx context.Context, c *Claim) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.claims[c.ClaimID]
	if !ok {
		return notFoundf("Claim not found")
	}
	if cur.Version != c.Version {
		return conflictf("claim %s was modified by another request; reload and retry", c.ClaimID)
	}
	c.Version++
	r.s.claims[c.ClaimID] = c.Clone()
	onRollback(ctx, func() { r.s.claims[cur.ClaimID] = cur })
	return nil
}

func matches(c *Claim, f ClaimFilter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status) {
		return false
	}
	if containsStatus(f.ExcludeStatuses, c.Status) {
		return false
	}
	if len(f.ReviewStatuses) > 0 {
		rs := c.ReviewStatus
		if rs == "" {
			rs = ReviewPending
		}
		found := false
		for _, s := range f.ReviewStatuses {
			found = found || s == rs
		}
		if !found {
			return false
		}
	}
	if len(f.HospitalIDs) > 0 || len(f.HospitalNames) > 0 {
		found := false
		for _, id := range f.HospitalIDs {
			found = found || id == c.HospitalID
		}
		for _, n := range f.HospitalNames {
			found = found || strings.EqualFold(n, c.HospitalName)
		}
		if !found {
			return false
		}
	}
	if len(f.PayerSubstrings) > 0 {
		found := false
		for _, p := range f.PayerSubstrings {
			found = found || strings.Contains(strings.ToLower(c.PayerName), strings.ToLower(p))
		}
		if !found {
			return false
		}
	}
	if f.PayerName != "" && !strings.Contains(strings.ToLower(c.PayerName), strings.ToLower(f.PayerName)) {
		return false
	}
	if f.CreatedBy != "" && f.CreatedBy != c.CreatedBy {
		return false
	}
	if f.From != nil && c.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !c.CreatedAt.Before(*f.To) {
		return false
	}
	if f.MaxClaimedAmount != nil && c.ClaimedAmount.GreaterThan(*f.MaxClaimedAmount) {
		return false
	}
	return true
}

func containsStatus(ss []Status, s Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (r memClaims) filtered(f ClaimFilter) []*Claim {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Claim
	for _, c := range r.s.claims {
		if matches(c, f) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ClaimID > out[j].ClaimID
	})
	return out
}

func (r memClaims) List(_ context.Context, f ClaimFilter) ([]*Claim, int, error) {
	all := r.filtered(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := f.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r memClaims) CountByStatus(_ context.Context, f ClaimFilter) (map[Status]int, error) {
	out := map[Status]int{}
	for _, c := range r.filtered(f) {
		out[c.Status]++
	}
	return out, nil
}

func (r memClaims) CountByReviewStatus(_ context.Context, f ClaimFilter) (map[ReviewStatus]int, error) {
	out := map[ReviewStatus]int{}
	for _, c := range r.filtered(f) {
		out[NormalizeReview(string(c.ReviewStatus))]++
	}
	return out, nil
}

func (r memClaims) NextSequence(_ context.Context, day time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prefix := ClaimIDPrefix(day)
	next := 0
	for id := range r.s.claims {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err == nil && n+1 > next {
			next = n + 1
		}
	}
	return next, nil
}

func (r memClaims) ListExpiredLocks(_ context.Context, now time.Time) ([]*Claim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Claim
	for _, c := range r.s.claims {
		if c.Lock != nil && !now.Before(c.Lock.ExpiresAt) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

type memTxs struct{ s *memStore }

func (r memTxs) Append(ctx context.Context, t *Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.appendErr != nil {
		return r.s.appendErr
	}
	r.s.txs = append(r.s.txs, t)
	n := len(r.s.txs)
	onRollback(ctx, func() { r.s.txs = r.s.txs[:n-1] })
	return nil
}

func (r memTxs) List(_ context.Context, claimID string, limit int) ([]*Transaction, error) {
	all := r.s.transactions(claimID)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].PerformedAt.Equal(all[j].PerformedAt) {
			return all[i].PerformedAt.After(all[j].PerformedAt)
		}
		return all[i].TransactionID > all[j].TransactionID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type memDrafts struct{ s *memStore }

func (r memDrafts) Create(_ context.Context, d *Draft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *d
	r.s.drafts[d.DraftID] = &cp
	return nil
}

func (r memDrafts) Get(_ context.Context, id string) (*Draft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.drafts[id]
	if !ok {
		return nil, notFoundf("Draft not found")
	}
	cp := *d
	cp.FormData = d.FormData.Clone()
	return &cp, nil
}

func (r memDrafts) Update(_ context.Context, d *Draft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.drafts[d.DraftID]; !ok {
		return notFoundf("Draft not found")
	}
	cp := *d
	r.s.drafts[d.DraftID] = &cp
	return nil
}

func (r memDrafts) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.drafts[id]
	if !ok {
		return notFoundf("Draft not found")
	}
	delete(r.s.drafts, id)
	onRollback(ctx, func() { r.s.drafts[id] = d })
	return nil
}

func (r memDrafts) ListByHospital(_ context.Context, hospitalID string, limit, offset int) ([]*Draft, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Draft
	for _, d := range r.s.drafts {
		if d.HospitalID == hospitalID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

// -- Collaborators --

var testNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []notification.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.EventType, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Event
	}
	return out
}

type countingRecorder struct {
	mu          sync.Mutex
	transitions map[string]int
	conflicts   int
}

func (r *countingRecorder) TransitionRecorded(txType, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitions == nil {
		r.transitions = map[string]int{}
	}
	r.transitions[txType]++
}

func (r *countingRecorder) LockConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

type testEnv struct {
	store    *memStore
	clock    *fakeClock
	notifier *recordingNotifier
	recorder *countingRecorder
	engine   *Engine
}

func newTestEnv(opts ...Option) *testEnv {
	env := &testEnv{
		store:    newMemStore(),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		recorder: &countingRecorder{},
	}
	base := []Option{
		WithClock(env.clock.Now),
		WithNotifier(env.notifier),
		WithRecorder(env.recorder),
	}
	env.engine = NewEngine(env.store, append(base, opts...)...)
	return env
}

// -- Principals --

func hospitalUser(id, hospitalID string) *auth.Principal {
	return &auth.Principal{
		UserID: id, Email: id + "@hospital.test", Name: "Hospital " + id, Role: auth.RoleHospitalUser,
		Scope: auth.Scope{HospitalID: hospitalID, HospitalName: "City Hospital " + hospitalID},
	}
}

func processor(id, role string) *auth.Principal {
	return &auth.Principal{
		UserID: id, Email: id + "@payer.test", Name: "Processor " + id, Role: role,
		Scope: auth.BuildScope(role, auth.EntityAssignments{}),
	}
}

func staff(id, role string, a auth.EntityAssignments) *auth.Principal {
	return &auth.Principal{
		UserID: id, Email: id + "@claims.test", Name: "Staff " + id, Role: role,
		Scope: auth.BuildScope(role, a),
	}
}

// -- Fixtures --

func validForm() FormData {
	return FormData{
		"patient_name":                "Asha Rao",
		"age":                         "42",
		"age_unit":                    "YRS",
		"gender":                      "F",
		"id_card_type":                "AADHAR",
		"beneficiary_type":            "SELF",
		"relationship":                "SELF",
		"payer_patient_id":            "PP-100",
		"authorization_number":        "AUTH-1",
		"total_authorized_amount":     "50000",
		"payer_type":                  "INSURER",
		"payer_name":                  "Star Health",
		"patient_registration_number": "REG-9",
		"specialty":                   "Cardiology",
		"doctor":                      "Dr. Mehta",
		"treatment_line":              "Medical",
		"policy_type":                 "Individual",
		"claim_type":                  "INPATIENT",
		"service_start_date":          "2024-03-01",
		"service_end_date":            "2024-03-05",
		"inpatient_number":            "IP-77",
		"admission_type":              "Emergency",
		"hospitalization_type":        "Medical",
		"ward_type":                   "General",
		"final_diagnosis":             "Angina",
		"treatment_done":              "Angioplasty",
		"bill_number":                 "B-1",
		"bill_date":                   "2024-03-05",
		"total_bill_amount":           "48000",
		"claimed_amount":              "45000",
	}
}

func seedClaim(s *memStore, id string, status Status, amount int64) *Claim {
	return s.seed(&Claim{
		ClaimID:               id,
		Status:                status,
		HospitalID:            "H1",
		HospitalName:          "City Hospital H1",
		PatientName:           "Asha Rao",
		PayerName:             "Star Health",
		ClaimedAmount:         decimal.NewFromInt(amount),
		TotalAuthorizedAmount: decimal.NewFromInt(amount),
		FormData:              FormData{"patient_name": "Asha Rao"},
		CreatedBy:             "seed",
	})
}
