package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junheony/arbitrage-full/internal/crypto"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL.
// Secret material is sealed before it touches the database and opened on
// read; the api_key stays in the clear for display purposes.
type CredentialStore struct {
	pool   *pgxpool.Pool
	sealer *crypto.Sealer
}

// NewCredentialStore creates a CredentialStore backed by the given pool and
// sealer.
func NewCredentialStore(pool *pgxpool.Pool, sealer *crypto.Sealer) *CredentialStore {
	return &CredentialStore{pool: pool, sealer: sealer}
}

// Get retrieves and decrypts a user's credential for one venue.
func (s *CredentialStore) Get(ctx context.Context, userID, venue string) (domain.VenueCredential, error) {
	const query = `
		SELECT id, user_id, venue, api_key, api_secret_sealed, passphrase_sealed, created_at
		FROM credentials
		WHERE user_id = $1 AND venue = $2`

	var c domain.VenueCredential
	var secretSealed, passphraseSealed string
	err := s.pool.QueryRow(ctx, query, userID, venue).Scan(
		&c.ID, &c.UserID, &c.Venue, &c.APIKey, &secretSealed, &passphraseSealed, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VenueCredential{}, domain.ErrNotFound
		}
		return domain.VenueCredential{}, fmt.Errorf("postgres: get credential %s/%s: %w", userID, venue, err)
	}

	c.APISecret, err = s.sealer.Open(secretSealed)
	if err != nil {
		return domain.VenueCredential{}, fmt.Errorf("postgres: open credential %s/%s: %w", userID, venue, err)
	}
	if passphraseSealed != "" {
		c.Passphrase, err = s.sealer.Open(passphraseSealed)
		if err != nil {
			return domain.VenueCredential{}, fmt.Errorf("postgres: open credential %s/%s: %w", userID, venue, err)
		}
	}
	return c, nil
}

// Upsert seals and stores a credential, replacing any existing row for the
// same (user, venue) pair.
func (s *CredentialStore) Upsert(ctx context.Context, cred domain.VenueCredential) error {
	secretSealed, err := s.sealer.Seal(cred.APISecret)
	if err != nil {
		return fmt.Errorf("postgres: seal credential %s/%s: %w", cred.UserID, cred.Venue, err)
	}
	passphraseSealed := ""
	if cred.Passphrase != "" {
		passphraseSealed, err = s.sealer.Seal(cred.Passphrase)
		if err != nil {
			return fmt.Errorf("postgres: seal credential %s/%s: %w", cred.UserID, cred.Venue, err)
		}
	}

	id := cred.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO credentials (id, user_id, venue, api_key, api_secret_sealed, passphrase_sealed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, venue) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			api_secret_sealed = EXCLUDED.api_secret_sealed,
			passphrase_sealed = EXCLUDED.passphrase_sealed`

	_, err = s.pool.Exec(ctx, query,
		id, cred.UserID, cred.Venue, cred.APIKey, secretSealed, passphraseSealed, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert credential %s/%s: %w", cred.UserID, cred.Venue, err)
	}
	return nil
}

// Delete removes a user's credential for one venue.
func (s *CredentialStore) Delete(ctx context.Context, userID, venue string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credentials WHERE user_id = $1 AND venue = $2`, userID, venue)
	if err != nil {
		return fmt.Errorf("postgres: delete credential %s/%s: %w", userID, venue, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete credential %s/%s: %w", userID, venue, domain.ErrNotFound)
	}
	return nil
}

var _ domain.CredentialStore = (*CredentialStore)(nil)
