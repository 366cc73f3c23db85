package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/medclaims/claims/internal/platform/db"
)

// Failure records an event the dispatcher could not deliver.
type Failure struct {
	ID         string    `json:"id"`
	ClaimID    string    `json:"claim_id"`
	Event      EventType `json:"event"`
	Error      string    `json:"error"`
	Attempts   int       `json:"attempts"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FailureLog persists delivery failures so operators can tell a failed
// notification apart from a failed state change.
type FailureLog interface {
	Record(ctx context.Context, f *Failure) error
	List(ctx context.Context, limit, offset int) ([]*Failure, int, error)
}

func newFailure(ev Event, err error, attempts int, now time.Time) *Failure {
	return &Failure{
		ID:         ulid.Make().String(),
		ClaimID:    ev.ClaimID,
		Event:      ev.Event,
		Error:      err.Error(),
		Attempts:   attempts,
		OccurredAt: now.UTC(),
	}
}

// MemoryFailureLog keeps failures in process memory, newest first.
type MemoryFailureLog struct {
	mu       sync.RWMutex
	failures []*Failure
}

func NewMemoryFailureLog() *MemoryFailureLog {
	return &MemoryFailureLog{}
}

func (l *MemoryFailureLog) Record(_ context.Context, f *Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append([]*Failure{f}, l.failures...)
	return nil
}

func (l *MemoryFailureLog) List(_ context.Context, limit, offset int) ([]*Failure, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := len(l.failures)
	if offset >= total {
		return []*Failure{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Failure, end-offset)
	copy(out, l.failures[offset:end])
	return out, total, nil
}

// PGFailureLog stores failures in the notification_failures table.
type PGFailureLog struct {
	pool db.Queryable
}

func NewPGFailureLog(pool db.Queryable) *PGFailureLog {
	return &PGFailureLog{pool: pool}
}

func (l *PGFailureLog) Record(ctx context.Context, f *Failure) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO notification_failures (id, claim_id, event, error, attempts, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.ClaimID, string(f.Event), f.Error, f.Attempts, f.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert notification failure: %w", err)
	}
	return nil
}

func (l *PGFailureLog) List(ctx context.Context, limit, offset int) ([]*Failure, int, error) {
	var total int
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_failures`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notification failures: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, claim_id, event, error, attempts, occurred_at
		FROM notification_failures
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notification failures: %w", err)
	}
	defer rows.Close()

	var out []*Failure
	for rows.Next() {
		var f Failure
		var event string
		if err := rows.Scan(&f.ID, &f.ClaimID, &event, &f.Error, &f.Attempts, &f.OccurredAt); err != nil {
			return nil, 0, err
		}
		f.Event = EventType(event)
		out = append(out, &f)
	}
	return out, total, rows.Err()
}
