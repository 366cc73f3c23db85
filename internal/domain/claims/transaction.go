package claims

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TxEntry is what a lifecycle operation asks the log to record.
type TxEntry struct {
	ClaimID        string
	Type           TransactionType
	Actor          Actor
	PreviousStatus Status
	NewStatus      Status
	Remarks        string
	Metadata       map[string]any
}

// TransactionLog appends audit entries. Record must run inside the same store
// transaction as the claim write it describes, so a failed append aborts the
// mutation.
type TransactionLog struct {
	repo TransactionRepository
	now  Clock

	mu      sync.Mutex
	entropy io.Reader
}

func NewTransactionLog(repo TransactionRepository, now Clock) *TransactionLog {
	if now == nil {
		now = SystemClock
	}
	return &TransactionLog{
		repo:    repo,
		now:     now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// newID returns a ULID that sorts after every id minted earlier in the same
// millisecond.
func (l *TransactionLog) newID(t time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), l.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (l *TransactionLog) Record(ctx context.Context, e TxEntry) (*Transaction, error) {
	now := l.now().UTC()
	id, err := l.newID(now)
	if err != nil {
		return nil, fmt.Errorf("transaction id: %w", err)
	}
	t := &Transaction{
		TransactionID:    id,
		ClaimID:          e.ClaimID,
		Type:             e.Type,
		PerformedBy:      e.Actor.ID,
		PerformedByEmail: e.Actor.Email,
		PerformedByName:  e.Actor.Name,
		PerformedByRole:  e.Actor.Role,
		PerformedAt:      now,
		PreviousStatus:   e.PreviousStatus,
		NewStatus:        e.NewStatus,
		Remarks:          e.Remarks,
		Metadata:         e.Metadata,
	}
	if err := l.repo.Append(ctx, t); err != nil {
		return nil, fmt.Errorf("record %s transaction for %s: %w", e.Type, e.ClaimID, err)
	}
	return t, nil
}

// List returns a claim's entries newest first.
func (l *TransactionLog) List(ctx context.Context, claimID string, limit int) ([]*Transaction, error) {
	return l.repo.List(ctx, claimID, limit)
}

// ClaimIDPrefix is the date-scoped prefix shared by one day's claims.
func ClaimIDPrefix(day time.Time) string {
	return "CSHLSIP-" + day.UTC().Format("20060102") + "-"
}

func FormatClaimID(day time.Time, seq int) string {
	return fmt.Sprintf("%s%d", ClaimIDPrefix(day), seq)
}

// NewDraftID returns "draft_" followed by 8 hex characters.
func NewDraftID() string {
	return "draft_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
