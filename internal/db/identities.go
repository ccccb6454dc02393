package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Identity struct {
	UID            string    `db:"uid"`
	Provider       string    `db:"provider"`
	Subject        string    `db:"subject"`
	PhoneNumber    *string   `db:"phone_number"`
	DisplayName    *string   `db:"display_name"`
	CreatedAt      time.Time `db:"created_at"`
	LastVerifiedAt time.Time `db:"last_verified_at"`
}

type IdentityRepository struct {
	db *sqlx.DB
}

func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{
		db: db,
	}
}

// Upsert records a successful verification. created_at survives re-verification.
func (r *IdentityRepository) Upsert(ctx context.Context, identity *Identity) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	    INSERT INTO identities
		(uid, provider, subject, phone_number, display_name, created_at, last_verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
		    phone_number = COALESCE(excluded.phone_number, identities.phone_number),
		    display_name = COALESCE(excluded.display_name, identities.display_name),
		    last_verified_at = excluded.last_verified_at
	`),
		identity.UID,
		identity.Provider,
		identity.Subject,
		identity.PhoneNumber,
		identity.DisplayName,
		identity.LastVerifiedAt.UTC(),
		identity.LastVerifiedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("IdentityRepository.Upsert: %w", err)
	}

	return nil
}

func (r *IdentityRepository) GetByUID(ctx context.Context, uid string) (*Identity, error) {
	var identity Identity

	err := r.db.GetContext(ctx, &identity, r.db.Rebind(`
	    SELECT uid, provider, subject, phone_number, display_name, created_at, last_verified_at
		FROM identities
		WHERE uid = ?
	`), uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("IdentityRepository.GetByUID: %w", err)
	}

	return &identity, nil
}
