package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RefreshTokenStore keeps one encrypted refresh token per identity.
type RefreshTokenStore struct {
	db      *bun.DB
	repo    repository.Repository[*refreshTokenRecord]
	secrets core.SecretProvider
	now     func() time.Time
}

func NewRefreshTokenStore(db *bun.DB, secrets core.SecretProvider) (*RefreshTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: secret provider is required")
	}
	repo := repository.NewRepository[*refreshTokenRecord](db, refreshTokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid refresh token repository wiring: %w", err)
		}
	}
	return &RefreshTokenStore{
		db:      db,
		repo:    repo,
		secrets: secrets,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *RefreshTokenStore) Get(ctx context.Context, identity core.Identity) (string, bool, error) {
	if s == nil || s.repo == nil {
		return "", false, fmt.Errorf("sqlstore: refresh token store is not configured")
	}
	record, found, err := s.find(ctx, identity)
	if err != nil || !found {
		return "", false, err
	}
	plaintext, err := s.secrets.Decrypt(ctx, record.EncryptedToken)
	if err != nil {
		return "", false, fmt.Errorf("sqlstore: decrypt refresh token for %q: %w", identity, err)
	}
	return string(plaintext), true, nil
}

// Put encrypts and stores refreshToken, replacing any previous token of the
// identity. Each replacement bumps the record version.
func (s *RefreshTokenStore) Put(ctx context.Context, identity core.Identity, refreshToken string) error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: refresh token store is not configured")
	}
	if identity.IsZero() {
		return fmt.Errorf("sqlstore: identity is required")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return fmt.Errorf("sqlstore: refresh token is required")
	}
	encrypted, err := s.secrets.Encrypt(ctx, []byte(refreshToken))
	if err != nil {
		return fmt.Errorf("sqlstore: encrypt refresh token for %q: %w", identity, err)
	}
	now := s.now()

	_, found, err := s.find(ctx, identity)
	if err != nil {
		return err
	}
	if !found {
		_, err = s.repo.Create(ctx, &refreshTokenRecord{
			ID:             uuid.NewString(),
			Identity:       identity.String(),
			EncryptedToken: encrypted,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err == nil || !isUniqueConstraintError(err) {
			return err
		}
		// Lost an insert race; fall through to an update of the winner.
	}

	_, err = s.db.NewUpdate().
		Model((*refreshTokenRecord)(nil)).
		Set("encrypted_token = ?", encrypted).
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("identity = ?", identity.String()).
		Exec(ctx)
	return err
}

func (s *RefreshTokenStore) Delete(ctx context.Context, identity core.Identity) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: refresh token store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*refreshTokenRecord)(nil)).
		Where("identity = ?", identity.String()).
		Exec(ctx)
	return err
}

// Version returns the number of times the identity's token was written.
func (s *RefreshTokenStore) Version(ctx context.Context, identity core.Identity) (int, error) {
	record, found, err := s.find(ctx, identity)
	if err != nil || !found {
		return 0, err
	}
	return record.Version, nil
}

func (s *RefreshTokenStore) find(ctx context.Context, identity core.Identity) (*refreshTokenRecord, bool, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("identity", "=", identity.String()),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}

var _ core.RefreshTokenStore = (*RefreshTokenStore)(nil)
