package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type refreshTokenRecord struct {
	bun.BaseModel `bun:"table:crm_refresh_tokens,alias:crt"`

	ID             string    `bun:"id,pk"`
	Identity       string    `bun:"identity,notnull"`
	EncryptedToken []byte    `bun:"encrypted_token,notnull"`
	Version        int       `bun:"version,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:crm_rate_limit_state,alias:crls"`

	ID             string         `bun:"id,pk"`
	ProviderID     string         `bun:"provider_id,notnull"`
	Identity       string         `bun:"identity,notnull"`
	BucketKey      string         `bun:"bucket_key,notnull"`
	Limit          int            `bun:"limit_value,notnull"`
	Remaining      int            `bun:"remaining,notnull"`
	IntervalMS     int64          `bun:"interval_ms,notnull"`
	ResetAt        *time.Time     `bun:"reset_at,nullzero"`
	RetryAfterMS   *int64         `bun:"retry_after_ms"`
	ThrottledUntil *time.Time     `bun:"throttled_until,nullzero"`
	Attempts       int            `bun:"attempts,notnull"`
	LastStatus     int            `bun:"last_status,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
