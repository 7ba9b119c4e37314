package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RateLimitStateStore persists adaptive rate limit state so a throttle seen
// by one process is honoured by the others. One row per normalized key.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.State, error) {
	key, err := s.prepare(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	record, err := selectRateLimitState(ctx, s.db, key)
	if err != nil {
		return ratelimit.State{}, err
	}
	if record == nil {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return record.state(), nil
}

// Upsert replaces the stored state for state.Key inside one transaction.
func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	key, err := s.prepare(state.Key)
	if err != nil {
		return err
	}
	state.Key = key
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := selectRateLimitState(ctx, tx, key)
		if err != nil {
			return err
		}
		record := newRateLimitStateRecord(state)
		if existing == nil {
			record.ID = uuid.NewString()
			record.CreatedAt = record.UpdatedAt
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		}
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		_, err = tx.NewUpdate().Model(record).WherePK().Exec(ctx)
		return err
	})
}

func (s *RateLimitStateStore) prepare(key ratelimit.Key) (ratelimit.Key, error) {
	if s == nil || s.db == nil {
		return key, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = ratelimit.NormalizeKey(key)
	switch {
	case key.Provider == "":
		return key, fmt.Errorf("sqlstore: rate-limit provider is required")
	case key.Identity.IsZero():
		return key, fmt.Errorf("sqlstore: rate-limit identity is required")
	case key.Bucket == "":
		return key, fmt.Errorf("sqlstore: rate-limit bucket is required")
	}
	return key, nil
}

func selectRateLimitState(ctx context.Context, db bun.IDB, key ratelimit.Key) (*rateLimitStateRecord, error) {
	record := &rateLimitStateRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", key.Provider).
		Where("?TableAlias.identity = ?", key.Identity.String()).
		Where("?TableAlias.bucket_key = ?", key.Bucket).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func newRateLimitStateRecord(state ratelimit.State) *rateLimitStateRecord {
	record := &rateLimitStateRecord{
		ProviderID:     state.Key.Provider,
		Identity:       state.Key.Identity.String(),
		BucketKey:      state.Key.Bucket,
		Limit:          state.Limit,
		Remaining:      state.Remaining,
		IntervalMS:     state.Interval.Milliseconds(),
		ResetAt:        utcPointer(state.ResetAt),
		ThrottledUntil: utcPointer(state.ThrottledUntil),
		Attempts:       state.Attempts,
		LastStatus:     state.LastStatus,
		Metadata:       copyAnyMap(state.Metadata),
		UpdatedAt:      state.UpdatedAt.UTC(),
	}
	if state.RetryAfter != nil && *state.RetryAfter > 0 {
		ms := state.RetryAfter.Milliseconds()
		record.RetryAfterMS = &ms
	}
	return record
}

func (r *rateLimitStateRecord) state() ratelimit.State {
	state := ratelimit.State{
		Key: ratelimit.Key{
			Provider: r.ProviderID,
			Identity: core.Identity(r.Identity),
			Bucket:   r.BucketKey,
		},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		Interval:       time.Duration(r.IntervalMS) * time.Millisecond,
		ResetAt:        utcPointer(r.ResetAt),
		ThrottledUntil: utcPointer(r.ThrottledUntil),
		Attempts:       r.Attempts,
		LastStatus:     r.LastStatus,
		UpdatedAt:      r.UpdatedAt.UTC(),
		Metadata:       copyAnyMap(r.Metadata),
	}
	if r.RetryAfterMS != nil && *r.RetryAfterMS > 0 {
		wait := time.Duration(*r.RetryAfterMS) * time.Millisecond
		state.RetryAfter = &wait
	}
	return state
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func copyAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ ratelimit.StateStore = (*RateLimitStateStore)(nil)
