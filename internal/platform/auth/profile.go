package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medclaims/claims/internal/platform/db"
)

// ErrProfileNotFound is returned when no profile exists for an identity.
var ErrProfileNotFound = errors.New("user profile not found")

type EntityAssignments struct {
	Hospitals []Entity `json:"hospitals"`
	Payers    []Entity `json:"payers"`
}

// Profile is the identity provider's record for a user.
type Profile struct {
	UID               string            `json:"uid"`
	Email             string            `json:"email"`
	Name              string            `json:"name"`
	Role              string            `json:"role"`
	EntityAssignments EntityAssignments `json:"entity_assignments"`
}

type ProfileStore interface {
	GetProfile(ctx context.Context, uid string) (*Profile, error)
}

type pgProfileStore struct{ pool db.Queryable }

func NewProfileStorePG(pool db.Queryable) ProfileStore { return &pgProfileStore{pool: pool} }

func (s *pgProfileStore) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	var p Profile
	var assignments []byte
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT uid, email, name, role, entity_assignments FROM user_profiles WHERE uid = $1`, uid).
		Scan(&p.UID, &p.Email, &p.Name, &p.Role, &assignments)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(assignments) > 0 {
		if err := json.Unmarshal(assignments, &p.EntityAssignments); err != nil {
			return nil, fmt.Errorf("decode entity assignments: %w", err)
		}
	}
	p.Role = NormalizeRole(p.Role)
	return &p, nil
}

// CachedProfileStore reads through a Redis cache. Cache errors fall back to
// the underlying store.
type CachedProfileStore struct {
	next   ProfileStore
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

func NewCachedProfileStore(next ProfileStore, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedProfileStore {
	return &CachedProfileStore{next: next, client: client, ttl: ttl, prefix: "claims:profile:", logger: logger}
}

func (s *CachedProfileStore) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	key := s.prefix + uid
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var p Profile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return &p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Str("uid", uid).Msg("profile cache read failed")
	}

	p, err := s.next.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn().Err(err).Str("uid", uid).Msg("profile cache write failed")
		}
	}
	return p, nil
}

// Invalidate drops a cached profile after a role or assignment change.
func (s *CachedProfileStore) Invalidate(ctx context.Context, uid string) error {
	return s.client.Del(ctx, s.prefix+uid).Err()
}
