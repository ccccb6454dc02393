// Package verify confirms that a user controls a phone number or a federated
// account and hands out a stable identity for them.
package verify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	ProviderPhone    = "phone"
	ProviderTelegram = "telegram"
)

var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://proteinguru.app/identity"))

// Identity is a verified account. UID is stable for a provider subject and is
// used as the profile storage key.
type Identity struct {
	UID      string
	Provider string
	Subject  string
	Phone    string
	Token    string
}

type Challenge struct {
	ID        string
	ExpiresAt time.Time
}

// FederatedClaim is what the front end knows about a federated sign-in attempt.
type FederatedClaim struct {
	Provider    string
	Subject     string
	DisplayName string
	Email       string
	Phone       string
	// PhoneOwner is the account that owns the shared phone contact, if any.
	PhoneOwner string
	Cancelled  bool
}

type FederatedIdentity struct {
	Identity    Identity
	DisplayName *string
	Email       *string
	Phone       *string
}

type Federator interface {
	SignIn(ctx context.Context, claim FederatedClaim) (FederatedIdentity, error)
}

func StableUID(provider, subject string) string {
	return uuid.NewSHA1(uidNamespace, []byte(provider+":"+subject)).String()
}

// Service is the verification gateway: phone challenges plus federated sign-in.
type Service struct {
	phone     *PhoneVerifier
	federated map[string]Federator
}

func NewService(phone *PhoneVerifier) *Service {
	return &Service{
		phone:     phone,
		federated: make(map[string]Federator),
	}
}

func (s *Service) RegisterFederator(provider string, f Federator) {
	s.federated[provider] = f
}

func (s *Service) BeginPhoneChallenge(ctx context.Context, fullPhone string) (Challenge, error) {
	if s.phone == nil {
		return Challenge{}, newError("Service.BeginPhoneChallenge", CodeConfigError, errors.New("phone verification is not configured"))
	}

	return s.phone.Begin(ctx, fullPhone)
}

func (s *Service) ConfirmPhoneChallenge(ctx context.Context, challengeID, code string) (Identity, error) {
	if s.phone == nil {
		return Identity{}, newError("Service.ConfirmPhoneChallenge", CodeNoActiveChallenge, nil)
	}

	return s.phone.Confirm(ctx, challengeID, code)
}

func (s *Service) InvalidateChallenge(ctx context.Context, challengeID string) error {
	if s.phone == nil || challengeID == "" {
		return nil
	}

	return s.phone.Invalidate(ctx, challengeID)
}

func (s *Service) SignInFederated(ctx context.Context, claim FederatedClaim) (FederatedIdentity, error) {
	f, ok := s.federated[claim.Provider]
	if !ok {
		return FederatedIdentity{}, newError("Service.SignInFederated", CodeProviderError, errors.New("unknown provider "+claim.Provider))
	}

	return f.SignIn(ctx, claim)
}

func (s *Service) Rearm(ctx context.Context) error {
	if s.phone == nil {
		return nil
	}

	return s.phone.Rearm(ctx)
}
