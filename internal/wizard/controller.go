// Package wizard drives a signup session through its ordered steps: phone
// or federated verification, profile details, and the final submission of
// the completed profile.
package wizard

import (
	"context"
	"strings"

	"github.com/AlekSi/pointer"
	"go.uber.org/zap"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/profile"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/protein"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/verify"
)

// Gateway is the verification provider. Challenge ids are passed
// explicitly so that no provider state is shared between sessions.
type Gateway interface {
	BeginPhoneChallenge(ctx context.Context, fullPhone string) (verify.Challenge, error)
	ConfirmPhoneChallenge(ctx context.Context, challengeID, code string) (verify.Identity, error)
	SignInFederated(ctx context.Context, claim verify.FederatedClaim) (verify.FederatedIdentity, error)
	InvalidateChallenge(ctx context.Context, challengeID string) error
}

// ProfileStore persists completed profiles. UpsertProfile must be safe to
// repeat with the same uid.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, uid string, doc profile.Document) error
}

// Claim is what the user offers as proof of identity: a local phone number
// or a federated sign-in.
type Claim struct {
	Phone     string
	Federated *verify.FederatedClaim
}

func PhoneClaim(raw string) Claim {
	return Claim{Phone: raw}
}

func FederatedClaim(c verify.FederatedClaim) Claim {
	return Claim{Federated: &c}
}

type Options struct {
	Rules       Rules
	CountryCode string
	Retry       RetryPolicy
}

func DefaultOptions() Options {
	return Options{
		Rules:       DefaultRules(),
		CountryCode: "+91",
		Retry:       DefaultRetryPolicy(),
	}
}

type Controller struct {
	gateway Gateway
	store   ProfileStore
	opts    Options
	logger  *zap.Logger
}

func New(gateway Gateway, store ProfileStore, opts Options, logger *zap.Logger) *Controller {
	return &Controller{
		gateway: gateway,
		store:   store,
		opts:    opts,
		logger:  logger,
	}
}

func (c *Controller) valid(s *Session, step Step) bool {
	return c.opts.Rules.stepValid(step, &s.fields, s.pending != nil, s.identity != nil)
}

// Advance moves to the next step when the current one is valid. It is a
// no-op on the terminal step. The code step can only be left by confirming.
func (c *Controller) Advance(s *Session) error {
	const op = "Advance"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(op); err != nil {
		return err
	}

	if s.step == lastStep {
		return nil
	}

	if !c.valid(s, s.step) {
		return s.fail(inputError(op, s.step))
	}

	if s.step == StepCode && s.identity == nil {
		return s.fail(stateError(op, s.step, ErrNotVerified))
	}

	from := s.step
	s.step = s.step.next()
	s.lastErr = nil

	c.logger.Debug("wizard advanced", zap.String("session", s.ID), zap.Stringer("from", from), zap.Stringer("to", s.step))

	return nil
}

// Retreat moves one step back. Leaving the code step drops its challenge,
// which then has to be requested again.
func (c *Controller) Retreat(ctx context.Context, s *Session) error {
	const op = "Retreat"

	s.mu.Lock()

	if err := s.usable(op); err != nil {
		s.mu.Unlock()
		return err
	}

	if s.step == firstStep {
		s.mu.Unlock()
		return nil
	}

	if s.identity != nil && s.step.prev() <= StepCode {
		err := s.fail(stateError(op, s.step, ErrIdentitySealed))
		s.mu.Unlock()
		return err
	}

	var challengeID string
	if s.step == StepCode {
		challengeID = s.supersede()
	}

	s.step = s.step.prev()
	s.lastErr = nil
	s.mu.Unlock()

	if challengeID != "" {
		c.invalidate(ctx, s, challengeID)
	}

	return nil
}

// RequestVerification starts phone or federated verification from the
// phone step, or re-sends a code from the code step.
func (c *Controller) RequestVerification(ctx context.Context, s *Session, claim Claim) error {
	const op = "RequestVerification"

	s.mu.Lock()

	if err := s.usable(op); err != nil {
		s.mu.Unlock()
		return err
	}

	if s.identity != nil {
		err := s.fail(stateError(op, s.step, ErrAlreadyVerified))
		s.mu.Unlock()
		return err
	}

	if s.step != StepPhone && s.step != StepCode {
		err := s.fail(stateError(op, s.step, ErrWrongStep))
		s.mu.Unlock()
		return err
	}

	if s.inFlight.Request {
		err := s.fail(stateError(op, s.step, ErrInFlight))
		s.mu.Unlock()
		return err
	}

	if claim.Federated != nil {
		return c.signInFederated(ctx, s, *claim.Federated)
	}

	if claim.Phone != "" {
		s.fields.Phone = NormalizeDigits(claim.Phone)
	}

	if !ValidPhone(s.fields.Phone) {
		err := s.fail(inputError(op, StepPhone))
		s.mu.Unlock()
		return err
	}

	previous := s.supersede()
	epoch := s.epoch
	fullPhone := c.opts.CountryCode + s.fields.Phone
	s.inFlight.Request = true
	s.mu.Unlock()

	if previous != "" {
		c.invalidate(ctx, s, previous)
	}

	var challenge verify.Challenge
	rearm, _ := c.gateway.(verify.Rearmer)
	err := c.opts.Retry.do(ctx, rearm, func(ctx context.Context) error {
		var err error
		challenge, err = c.gateway.BeginPhoneChallenge(ctx, fullPhone)
		return err
	})

	s.mu.Lock()
	s.inFlight.Request = false

	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		if err == nil {
			c.invalidate(ctx, s, challenge.ID)
		}
		return stateError(op, StepPhone, ErrStaleResponse)
	}

	if err != nil {
		werr := s.fail(classifyGateway(op, s.step, err))
		s.mu.Unlock()
		c.logger.Warn("challenge request failed", zap.String("session", s.ID), zap.Error(werr))
		return werr
	}

	s.pending = &pendingChallenge{id: challenge.ID, expiresAt: challenge.ExpiresAt}
	s.fields.Code = ""
	s.step = StepCode
	s.lastErr = nil
	s.mu.Unlock()

	c.logger.Info("challenge pending", zap.String("session", s.ID), zap.String("challenge", challenge.ID))

	return nil
}

// signInFederated is entered with s.mu held and releases it.
func (c *Controller) signInFederated(ctx context.Context, s *Session, claim verify.FederatedClaim) error {
	const op = "RequestVerification"

	previous := s.supersede()
	epoch := s.epoch
	s.inFlight.Request = true
	s.mu.Unlock()

	if previous != "" {
		c.invalidate(ctx, s, previous)
	}

	result, err := c.gateway.SignInFederated(ctx, claim)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight.Request = false

	if s.closed || s.epoch != epoch {
		return stateError(op, s.step, ErrStaleResponse)
	}

	if err != nil {
		werr := s.fail(classifyGateway(op, s.step, err))
		c.logger.Warn("federated sign-in failed", zap.String("session", s.ID), zap.Error(werr))
		return werr
	}

	identity := result.Identity
	s.identity = &identity

	if result.DisplayName != nil && s.fields.Name == "" {
		s.fields.Name = *result.DisplayName
	}

	if result.Email != nil && s.fields.Email == "" {
		s.fields.Email = *result.Email
	}

	if result.Phone != nil && s.fields.Phone == "" {
		s.fields.Phone = NormalizeDigits(strings.TrimPrefix(*result.Phone, c.opts.CountryCode))
	}

	s.step = StepDetail
	s.lastErr = nil

	c.logger.Info("identity verified", zap.String("session", s.ID), zap.String("provider", identity.Provider))

	return nil
}

// ConfirmVerification checks code against the pending challenge. An
// incorrect code keeps the challenge for another try; an expired or invalid
// challenge is dropped and has to be requested again.
func (c *Controller) ConfirmVerification(ctx context.Context, s *Session, code string) error {
	const op = "ConfirmVerification"

	s.mu.Lock()

	if err := s.usable(op); err != nil {
		s.mu.Unlock()
		return err
	}

	if s.identity != nil {
		err := s.fail(stateError(op, s.step, ErrAlreadyVerified))
		s.mu.Unlock()
		return err
	}

	if s.pending == nil || s.step != StepCode {
		err := s.fail(stateError(op, s.step, ErrNoPendingChallenge))
		s.mu.Unlock()
		return err
	}

	s.fields.Code = strings.TrimSpace(code)
	if !ValidCode(s.fields.Code) {
		err := s.fail(inputError(op, StepCode))
		s.mu.Unlock()
		return err
	}

	if s.inFlight.Confirm {
		err := s.fail(stateError(op, s.step, ErrInFlight))
		s.mu.Unlock()
		return err
	}

	challengeID := s.pending.id
	entered := s.fields.Code
	epoch := s.epoch
	s.inFlight.Confirm = true
	s.mu.Unlock()

	identity, err := c.gateway.ConfirmPhoneChallenge(ctx, challengeID, entered)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight.Confirm = false

	if s.closed || s.epoch != epoch || s.pending == nil || s.pending.id != challengeID {
		c.logger.Info("discarding stale confirmation", zap.String("session", s.ID), zap.String("challenge", challengeID))
		return stateError(op, s.step, ErrStaleResponse)
	}

	if err != nil {
		werr := classifyGateway(op, s.step, err)
		if werr.Kind == KindChallengeFatal {
			s.supersede()
		}
		c.logger.Warn("confirmation failed", zap.String("session", s.ID), zap.Error(werr))
		return s.fail(werr)
	}

	s.identity = &identity
	s.pending = nil
	s.fields.Code = ""
	s.step = StepCode.next()
	s.lastErr = nil

	c.logger.Info("identity verified", zap.String("session", s.ID), zap.String("provider", identity.Provider))

	return nil
}

// Submit persists the completed profile. Only one submission may be in
// flight per session; a failed one can be repeated without re-entering
// any answer.
func (c *Controller) Submit(ctx context.Context, s *Session) error {
	const op = "Submit"

	s.mu.Lock()

	if err := s.usable(op); err != nil {
		s.mu.Unlock()
		return err
	}

	if s.step != lastStep {
		err := s.fail(stateError(op, s.step, ErrWrongStep))
		s.mu.Unlock()
		return err
	}

	if s.identity == nil {
		err := s.fail(stateError(op, s.step, ErrNotVerified))
		s.mu.Unlock()
		return err
	}

	if !c.valid(s, lastStep) {
		err := s.fail(inputError(op, c.firstInvalid(s)))
		s.mu.Unlock()
		return err
	}

	if s.inFlight.Submit {
		err := s.fail(stateError(op, s.step, ErrInFlight))
		s.mu.Unlock()
		return err
	}

	s.inFlight.Submit = true
	s.submission = SubmissionNotAttempted
	s.result = nil

	rng := protein.Recommend(s.fields.Weight, s.fields.Lifestyle)
	doc := c.document(s, rng)
	s.mu.Unlock()

	err := c.store.UpsertProfile(ctx, doc.UID, doc)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight.Submit = false

	if err != nil {
		s.submission = SubmissionFailed
		c.logger.Error("profile upsert failed", zap.String("session", s.ID), zap.String("uid", doc.UID), zap.Error(err))
		return s.fail(&Error{Op: op, Kind: KindPersistence, Step: s.step, Err: err})
	}

	s.submission = SubmissionSucceeded
	s.result = &rng
	s.lastErr = nil

	c.logger.Info("profile saved", zap.String("session", s.ID), zap.String("uid", doc.UID),
		zap.Int("protein_min", rng.Min), zap.Int("protein_max", rng.Max))

	return nil
}

// Close tears the session down and releases any pending challenge.
func (c *Controller) Close(ctx context.Context, s *Session) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return
	}

	s.closed = true
	challengeID := s.supersede()
	s.mu.Unlock()

	if challengeID != "" {
		c.invalidate(ctx, s, challengeID)
	}
}

func (c *Controller) invalidate(ctx context.Context, s *Session, challengeID string) {
	if err := c.gateway.InvalidateChallenge(ctx, challengeID); err != nil {
		c.logger.Warn("failed to invalidate challenge",
			zap.String("session", s.ID), zap.String("challenge", challengeID), zap.Error(err))
	}
}

func (c *Controller) firstInvalid(s *Session) Step {
	for step := firstStep; step < lastStep; step++ {
		if !c.valid(s, step) {
			return step
		}
	}

	return lastStep
}

func (c *Controller) document(s *Session, rng protein.Range) profile.Document {
	doc := profile.Document{
		UID:          s.identity.UID,
		Provider:     s.identity.Provider,
		Phone:        c.opts.CountryCode + s.fields.Phone,
		Name:         strings.TrimSpace(s.fields.Name),
		Age:          s.fields.Age,
		Sex:          s.fields.Sex,
		Weight:       s.fields.Weight,
		Lifestyle:    s.fields.Lifestyle,
		Diet:         s.fields.Diet,
		ProteinRange: rng.Document(),
	}

	if email := strings.TrimSpace(s.fields.Email); email != "" {
		doc.Email = pointer.To(email)
	}

	return doc
}
