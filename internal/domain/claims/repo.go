package claims

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ClaimFilter narrows claim listings. Empty slices mean no restriction.
type ClaimFilter struct {
	Statuses         []Status
	ExcludeStatuses  []Status
	ReviewStatuses   []ReviewStatus
	HospitalIDs      []string
	HospitalNames    []string
	PayerSubstrings  []string
	PayerName        string
	CreatedBy        string
	From, To         *time.Time
	MaxClaimedAmount *decimal.Decimal
	Limit, Offset    int
}

type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	Get(ctx context.Context, claimID string) (*Claim, error)
	// Update writes c if its version still matches and bumps the version.
	Update(ctx context.Context, c *Claim) error
	List(ctx context.Context, f ClaimFilter) ([]*Claim, int, error)
	CountByStatus(ctx context.Context, f ClaimFilter) (map[Status]int, error)
	CountByReviewStatus(ctx context.Context, f ClaimFilter) (map[ReviewStatus]int, error)
	NextSequence(ctx context.Context, day time.Time) (int, error)
	ListExpiredLocks(ctx context.Context, now time.Time) ([]*Claim, error)
}

type TransactionRepository interface {
	Append(ctx context.Context, t *Transaction) error
	// List returns entries newest first. limit <= 0 means all.
	List(ctx context.Context, claimID string, limit int) ([]*Transaction, error)
}

type DraftRepository interface {
	Create(ctx context.Context, d *Draft) error
	Get(ctx context.Context, draftID string) (*Draft, error)
	Update(ctx context.Context, d *Draft) error
	Delete(ctx context.Context, draftID string) error
	ListByHospital(ctx context.Context, hospitalID string, limit, offset int) ([]*Draft, int, error)
}

// Store bundles the repositories with a transaction boundary. Repository
// calls made with the ctx passed to fn join the transaction.
type Store interface {
	Claims() ClaimRepository
	Transactions() TransactionRepository
	Drafts() DraftRepository
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
