package verify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/db"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

type ChallengeStore interface {
	Create(ctx context.Context, c *db.Challenge) error
	GetByID(ctx context.Context, id string) (*db.Challenge, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Close(ctx context.Context, id, status string) error
	InvalidatePhone(ctx context.Context, phoneNumber string) error
	CountSince(ctx context.Context, phoneNumber string, since time.Time) (int, error)
}

type IdentityStore interface {
	Upsert(ctx context.Context, identity *db.Identity) error
}

type PhoneOptions struct {
	TTL         time.Duration
	MaxAttempts int
	RateLimit   int
	RateWindow  time.Duration
}

// PhoneVerifier issues and confirms one-time codes. Only a hash of each code
// is stored.
type PhoneVerifier struct {
	challenges ChallengeStore
	identities IdentityStore
	sender     Sender
	signer     *Signer
	opts       PhoneOptions
	logger     *zap.Logger

	now      func() time.Time
	generate func() (string, error)
}

func NewPhoneVerifier(
	challenges ChallengeStore,
	identities IdentityStore,
	sender Sender,
	signer *Signer,
	opts PhoneOptions,
	logger *zap.Logger,
) *PhoneVerifier {
	return &PhoneVerifier{
		challenges: challenges,
		identities: identities,
		sender:     sender,
		signer:     signer,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		generate:   GenerateCode,
	}
}

// GenerateCode returns a uniformly random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(challengeID, code string) string {
	sum := sha256.Sum256([]byte(challengeID + ":" + code))
	return hex.EncodeToString(sum[:])
}

func (v *PhoneVerifier) Begin(ctx context.Context, phone string) (Challenge, error) {
	const op = "PhoneVerifier.Begin"

	if !e164.MatchString(phone) {
		return Challenge{}, newError(op, CodeInvalidNumber, nil)
	}

	if v.sender == nil || v.signer == nil {
		return Challenge{}, newError(op, CodeConfigError, errors.New("sender or signer missing"))
	}

	now := v.now().UTC()

	recent, err := v.challenges.CountSince(ctx, phone, now.Add(-v.opts.RateWindow))
	if err != nil {
		return Challenge{}, fmt.Errorf("%s: %w", op, err)
	}

	if recent >= v.opts.RateLimit {
		return Challenge{}, newError(op, CodeRateLimited, nil)
	}

	if err := v.challenges.InvalidatePhone(ctx, phone); err != nil {
		return Challenge{}, fmt.Errorf("%s: %w", op, err)
	}

	code, err := v.generate()
	if err != nil {
		return Challenge{}, newError(op, CodeConfigError, err)
	}

	c := &db.Challenge{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		CreatedAt:   now,
		ExpiresAt:   now.Add(v.opts.TTL),
	}
	c.CodeHash = hashCode(c.ID, code)

	if err := v.challenges.Create(ctx, c); err != nil {
		return Challenge{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := v.sender.SendCode(ctx, phone, code); err != nil {
		if closeErr := v.challenges.Close(ctx, c.ID, db.ChallengeInvalidated); closeErr != nil {
			v.logger.Error("failed to invalidate undelivered challenge", zap.String("challenge", c.ID), zap.Error(closeErr))
		}

		if _, ok := CodeOf(err); ok {
			return Challenge{}, err
		}

		return Challenge{}, newError(op, CodeProviderError, err)
	}

	v.logger.Info("challenge issued", zap.String("challenge", c.ID), zap.Time("expires_at", c.ExpiresAt))

	return Challenge{ID: c.ID, ExpiresAt: c.ExpiresAt}, nil
}

func (v *PhoneVerifier) Confirm(ctx context.Context, challengeID, code string) (Identity, error) {
	const op = "PhoneVerifier.Confirm"

	c, err := v.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	if c == nil || c.Status != db.ChallengePending {
		return Identity{}, newError(op, CodeNoActiveChallenge, nil)
	}

	now := v.now().UTC()

	if !now.Before(c.ExpiresAt) {
		if err := v.challenges.Close(ctx, c.ID, db.ChallengeInvalidated); err != nil {
			return Identity{}, fmt.Errorf("%s: %w", op, err)
		}
		return Identity{}, newError(op, CodeExpired, nil)
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(c.ID, code)), []byte(c.CodeHash)) != 1 {
		attempts, err := v.challenges.IncrementAttempts(ctx, c.ID)
		if errors.Is(err, db.ErrChallengeNotPending) {
			return Identity{}, newError(op, CodeNoActiveChallenge, nil)
		}
		if err != nil {
			return Identity{}, fmt.Errorf("%s: %w", op, err)
		}

		if attempts >= v.opts.MaxAttempts {
			if err := v.challenges.Close(ctx, c.ID, db.ChallengeInvalidated); err != nil {
				return Identity{}, fmt.Errorf("%s: %w", op, err)
			}
			return Identity{}, newError(op, CodeNoActiveChallenge, errors.New("too many attempts"))
		}

		return Identity{}, newError(op, CodeIncorrect, nil)
	}

	if err := v.challenges.Close(ctx, c.ID, db.ChallengeConsumed); err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	identity := Identity{
		UID:      StableUID(ProviderPhone, c.PhoneNumber),
		Provider: ProviderPhone,
		Subject:  c.PhoneNumber,
		Phone:    c.PhoneNumber,
	}

	if err := v.identities.Upsert(ctx, &db.Identity{
		UID:            identity.UID,
		Provider:       identity.Provider,
		Subject:        identity.Subject,
		PhoneNumber:    pointer.To(c.PhoneNumber),
		LastVerifiedAt: now,
	}); err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	identity.Token, err = v.signer.Issue(identity)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	v.logger.Info("phone verified", zap.String("challenge", c.ID), zap.String("uid", identity.UID))

	return identity, nil
}

// Invalidate is idempotent; unknown and final challenges are ignored.
func (v *PhoneVerifier) Invalidate(ctx context.Context, challengeID string) error {
	if err := v.challenges.Close(ctx, challengeID, db.ChallengeInvalidated); err != nil {
		return fmt.Errorf("PhoneVerifier.Invalidate: %w", err)
	}

	return nil
}

func (v *PhoneVerifier) Rearm(ctx context.Context) error {
	r, ok := v.sender.(Rearmer)
	if !ok {
		return nil
	}

	if err := r.Rearm(ctx); err != nil {
		return fmt.Errorf("PhoneVerifier.Rearm: %w", err)
	}

	return nil
}
