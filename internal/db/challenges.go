package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	ChallengePending     = "pending"
	ChallengeConsumed    = "consumed"
	ChallengeInvalidated = "invalidated"
)

var ErrChallengeNotPending = errors.New("challenge is not pending")

type Challenge struct {
	ID          string    `db:"id"`
	PhoneNumber string    `db:"phone_number"`
	CodeHash    string    `db:"code_hash"`
	Attempts    int       `db:"attempts"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

type ChallengeRepository struct {
	db *sqlx.DB
}

func NewChallengeRepository(db *sqlx.DB) *ChallengeRepository {
	return &ChallengeRepository{
		db: db,
	}
}

func (r *ChallengeRepository) Create(ctx context.Context, c *Challenge) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
        INSERT INTO challenges
        (id, phone_number, code_hash, attempts, status, created_at, expires_at)
        VALUES (?, ?, ?, 0, ?, ?, ?)
    `),
		c.ID,
		c.PhoneNumber,
		c.CodeHash,
		ChallengePending,
		c.CreatedAt.UTC(),
		c.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ChallengeRepository.Create: %w", err)
	}

	return nil
}

// GetByID returns nil without an error when the challenge does not exist.
func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*Challenge, error) {
	var c Challenge

	err := r.db.GetContext(ctx, &c, r.db.Rebind(`
        SELECT id, phone_number, code_hash, attempts, status, created_at, expires_at
        FROM challenges
        WHERE id = ?
    `), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("ChallengeRepository.GetByID: %w", err)
	}

	return &c, nil
}

// IncrementAttempts records a failed attempt on a pending challenge and
// returns the stored attempt count after the update.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int

	err := r.db.GetContext(ctx, &attempts, r.db.Rebind(`
        UPDATE challenges
        SET attempts = attempts + 1
        WHERE id = ? AND status = ?
        RETURNING attempts
    `), id, ChallengePending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrChallengeNotPending
		}

		return 0, fmt.Errorf("ChallengeRepository.IncrementAttempts: %w", err)
	}

	return attempts, nil
}

// Close moves a pending challenge to a final status. Challenges that are
// already final are left untouched.
func (r *ChallengeRepository) Close(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
        UPDATE challenges
        SET status = ?
        WHERE id = ? AND status = ?
    `), status, id, ChallengePending)
	if err != nil {
		return fmt.Errorf("ChallengeRepository.Close: %w", err)
	}

	return nil
}

// InvalidatePhone supersedes every pending challenge for a phone number.
func (r *ChallengeRepository) InvalidatePhone(ctx context.Context, phoneNumber string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
        UPDATE challenges
        SET status = ?
        WHERE phone_number = ? AND status = ?
    `), ChallengeInvalidated, phoneNumber, ChallengePending)
	if err != nil {
		return fmt.Errorf("ChallengeRepository.InvalidatePhone: %w", err)
	}

	return nil
}

func (r *ChallengeRepository) CountSince(ctx context.Context, phoneNumber string, since time.Time) (int, error) {
	var count int

	err := r.db.GetContext(ctx, &count, r.db.Rebind(`
        SELECT COUNT(*) FROM challenges
        WHERE phone_number = ? AND created_at > ?
    `), phoneNumber, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("ChallengeRepository.CountSince: %w", err)
	}

	return count, nil
}

// DeleteExpired removes challenges that expired before cutoff. Callers keep
// a retention margin so recent rows still count towards the rate limit.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
        DELETE FROM challenges
        WHERE expires_at < ?
    `), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("ChallengeRepository.DeleteExpired: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ChallengeRepository.DeleteExpired: %w", err)
	}

	return n, nil
}
