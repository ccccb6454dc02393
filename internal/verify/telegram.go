package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	"go.uber.org/zap"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/db"
)

// TelegramFederation treats the Telegram account behind a chat as a
// federated identity. Telegram has already authenticated the account; a
// shared contact adds a phone number only when it belongs to that account.
type TelegramFederation struct {
	identities IdentityStore
	signer     *Signer
	logger     *zap.Logger
	now        func() time.Time
}

func NewTelegramFederation(identities IdentityStore, signer *Signer, logger *zap.Logger) *TelegramFederation {
	return &TelegramFederation{
		identities: identities,
		signer:     signer,
		logger:     logger,
		now:        time.Now,
	}
}

func (f *TelegramFederation) SignIn(ctx context.Context, claim FederatedClaim) (FederatedIdentity, error) {
	const op = "TelegramFederation.SignIn"

	if claim.Cancelled {
		return FederatedIdentity{}, newError(op, CodeUserCancelled, nil)
	}

	if claim.Subject == "" {
		return FederatedIdentity{}, newError(op, CodeProviderError, errors.New("missing account id"))
	}

	if claim.Phone != "" && claim.PhoneOwner != claim.Subject {
		return FederatedIdentity{}, newError(op, CodeProviderError, errors.New("shared contact belongs to another account"))
	}

	identity := Identity{
		UID:      StableUID(ProviderTelegram, claim.Subject),
		Provider: ProviderTelegram,
		Subject:  claim.Subject,
	}

	result := FederatedIdentity{}

	if claim.Phone != "" {
		identity.Phone = "+" + strings.TrimPrefix(claim.Phone, "+")
		result.Phone = pointer.To(identity.Phone)
	}

	if name := strings.TrimSpace(claim.DisplayName); name != "" {
		result.DisplayName = pointer.To(name)
	}

	if email := strings.TrimSpace(claim.Email); email != "" {
		result.Email = pointer.To(email)
	}

	if err := f.identities.Upsert(ctx, &db.Identity{
		UID:            identity.UID,
		Provider:       identity.Provider,
		Subject:        identity.Subject,
		PhoneNumber:    result.Phone,
		DisplayName:    result.DisplayName,
		LastVerifiedAt: f.now().UTC(),
	}); err != nil {
		return FederatedIdentity{}, newError(op, CodeProviderError, err)
	}

	token, err := f.signer.Issue(identity)
	if err != nil {
		return FederatedIdentity{}, newError(op, CodeConfigError, fmt.Errorf("issue token: %w", err))
	}
	identity.Token = token

	result.Identity = identity

	f.logger.Info("federated sign-in", zap.String("provider", identity.Provider), zap.String("uid", identity.UID))

	return result, nil
}
