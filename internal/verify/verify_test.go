package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/config"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/db"
)

const testPhone = "+919876543210"

type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *recordingSender) SendCode(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.codes[phone] = code
	return nil
}

func (s *recordingSender) last(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type fixture struct {
	verifier   *PhoneVerifier
	service    *Service
	sender     *recordingSender
	challenges *db.ChallengeRepository
	identities *db.IdentityRepository
	signer     *Signer
	clock      time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) sweeper(retention time.Duration) *Sweeper {
	s := NewSweeper(f.challenges, time.Minute, retention, zap.NewNop())
	s.now = func() time.Time { return f.clock }
	return s
}

// staleAttempts reports every challenge as never having been tried, the way a
// read that raced a concurrent confirm would.
type staleAttempts struct {
	*db.ChallengeRepository
}

func (s staleAttempts) GetByID(ctx context.Context, id string) (*db.Challenge, error) {
	c, err := s.ChallengeRepository.GetByID(ctx, id)
	if c != nil {
		c.Attempts = 0
	}
	return c, err
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(config.DriverSQLite, filepath.Join(t.TempDir(), "verify.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.RunMigrations(database.Conn))

	signer, err := NewSigner("test-secret", time.Hour)
	require.NoError(t, err)

	f := &fixture{
		sender:     &recordingSender{codes: make(map[string]string)},
		challenges: db.NewChallengeRepository(database.Conn),
		identities: db.NewIdentityRepository(database.Conn),
		signer:     signer,
		clock:      time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}

	f.verifier = NewPhoneVerifier(
		f.challenges,
		f.identities,
		f.sender,
		signer,
		PhoneOptions{TTL: 5 * time.Minute, MaxAttempts: 3, RateLimit: 3, RateWindow: 10 * time.Minute},
		zap.NewNop(),
	)
	f.verifier.now = func() time.Time { return f.clock }
	signer.now = func() time.Time { return f.clock }

	f.service = NewService(f.verifier)
	f.service.RegisterFederator(ProviderTelegram, NewTelegramFederation(f.identities, signer, zap.NewNop()))

	return f
}

func requireCode(t *testing.T, err error, want Code) {
	t.Helper()

	got, ok := CodeOf(err)
	require.True(t, ok, "expected a verify error, got %v", err)
	assert.Equal(t, want, got)
}

func TestPhoneChallengeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	challenge, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(5*time.Minute), challenge.ExpiresAt)

	code := f.sender.last(testPhone)
	require.Len(t, code, 6)

	identity, err := f.service.ConfirmPhoneChallenge(ctx, challenge.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StableUID(ProviderPhone, testPhone), identity.UID)
	assert.Equal(t, testPhone, identity.Phone)

	claims, err := f.signer.Parse(identity.Token)
	require.NoError(t, err)
	assert.Equal(t, identity.UID, claims.Subject)
	assert.Equal(t, ProviderPhone, claims.Provider)

	stored, err := f.identities.GetByUID(ctx, identity.UID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, testPhone, pointer.Get(stored.PhoneNumber))

	// a consumed challenge cannot be replayed
	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, code)
	requireCode(t, err, CodeNoActiveChallenge)
}

func TestIncorrectCodeKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	challenge, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)

	code := f.sender.last(testPhone)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, wrong)
	requireCode(t, err, CodeIncorrect)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, code)
	assert.NoError(t, err)
}

func TestTooManyAttemptsInvalidatesChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.verifier.generate = func() (string, error) { return "424242", nil }

	challenge, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "000000")
	requireCode(t, err, CodeIncorrect)
	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "000001")
	requireCode(t, err, CodeIncorrect)
	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "000002")
	requireCode(t, err, CodeNoActiveChallenge)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "424242")
	requireCode(t, err, CodeNoActiveChallenge)
}

func TestAttemptLimitUsesStoredCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.verifier.challenges = staleAttempts{f.challenges}
	f.verifier.generate = func() (string, error) { return "424242", nil }

	challenge, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "000000")
	requireCode(t, err, CodeIncorrect)
	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "000001")
	requireCode(t, err, CodeIncorrect)
	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "000002")
	requireCode(t, err, CodeNoActiveChallenge)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, "424242")
	requireCode(t, err, CodeNoActiveChallenge)
}

func TestSweepKeepsRateLimitHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.service.BeginPhoneChallenge(ctx, testPhone)
		require.NoError(t, err)
	}

	f.advance(6 * time.Minute)

	n, err := f.sweeper(10 * time.Minute).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.service.BeginPhoneChallenge(ctx, testPhone)
	requireCode(t, err, CodeRateLimited)
}

func TestExpiredCodeSurvivesSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	challenge, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)

	f.advance(6 * time.Minute)

	_, err = f.sweeper(10 * time.Minute).SweepOnce(ctx)
	require.NoError(t, err)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, f.sender.last(testPhone))
	requireCode(t, err, CodeExpired)

	f.advance(10 * time.Minute)

	n, err := f.sweeper(10 * time.Minute).SweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestExpiredCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	challenge, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)

	f.advance(5 * time.Minute)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, f.sender.last(testPhone))
	requireCode(t, err, CodeExpired)

	_, err = f.service.ConfirmPhoneChallenge(ctx, challenge.ID, f.sender.last(testPhone))
	requireCode(t, err, CodeNoActiveChallenge)
}

func TestNewChallengeSupersedesOld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	old, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)
	oldCode := f.sender.last(testPhone)

	require.NoError(t, f.service.InvalidateChallenge(ctx, old.ID))

	f.advance(time.Second)
	fresh, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)

	_, err = f.service.ConfirmPhoneChallenge(ctx, old.ID, oldCode)
	requireCode(t, err, CodeNoActiveChallenge)

	_, err = f.service.ConfirmPhoneChallenge(ctx, fresh.ID, f.sender.last(testPhone))
	assert.NoError(t, err)
}

func TestBeginSupersedesWithoutExplicitInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	old, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)
	oldCode := f.sender.last(testPhone)

	f.advance(time.Second)
	_, err = f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)

	_, err = f.service.ConfirmPhoneChallenge(ctx, old.ID, oldCode)
	requireCode(t, err, CodeNoActiveChallenge)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	challenge, err := f.service.BeginPhoneChallenge(ctx, testPhone)
	require.NoError(t, err)

	assert.NoError(t, f.service.InvalidateChallenge(ctx, challenge.ID))
	assert.NoError(t, f.service.InvalidateChallenge(ctx, challenge.ID))
	assert.NoError(t, f.service.InvalidateChallenge(ctx, "unknown"))
	assert.NoError(t, f.service.InvalidateChallenge(ctx, ""))
}

func TestBeginRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid number", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.BeginPhoneChallenge(ctx, "9876543210")
		requireCode(t, err, CodeInvalidNumber)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 3; i++ {
			_, err := f.service.BeginPhoneChallenge(ctx, testPhone)
			require.NoError(t, err)
			f.advance(time.Second)
		}

		_, err := f.service.BeginPhoneChallenge(ctx, testPhone)
		requireCode(t, err, CodeRateLimited)

		f.advance(10 * time.Minute)
		_, err = f.service.BeginPhoneChallenge(ctx, testPhone)
		assert.NoError(t, err)
	})

	t.Run("missing sender", func(t *testing.T) {
		f := newFixture(t)
		f.verifier.sender = nil
		_, err := f.service.BeginPhoneChallenge(ctx, testPhone)
		requireCode(t, err, CodeConfigError)
	})

	t.Run("delivery failure passes code through", func(t *testing.T) {
		f := newFixture(t)
		f.sender.err = &Error{Op: "test", Code: CodeCaptchaFailed}
		_, err := f.service.BeginPhoneChallenge(ctx, testPhone)
		requireCode(t, err, CodeCaptchaFailed)
	})

	t.Run("no phone verifier", func(t *testing.T) {
		_, err := NewService(nil).BeginPhoneChallenge(ctx, testPhone)
		requireCode(t, err, CodeConfigError)
	})
}

func TestTelegramFederation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("cancelled", func(t *testing.T) {
		_, err := f.service.SignInFederated(ctx, FederatedClaim{Provider: ProviderTelegram, Cancelled: true})
		requireCode(t, err, CodeUserCancelled)
	})

	t.Run("foreign contact", func(t *testing.T) {
		_, err := f.service.SignInFederated(ctx, FederatedClaim{
			Provider:   ProviderTelegram,
			Subject:    "42",
			Phone:      "919876543210",
			PhoneOwner: "43",
		})
		requireCode(t, err, CodeProviderError)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := f.service.SignInFederated(ctx, FederatedClaim{Provider: "google", Subject: "x"})
		requireCode(t, err, CodeProviderError)
	})

	t.Run("own contact", func(t *testing.T) {
		got, err := f.service.SignInFederated(ctx, FederatedClaim{
			Provider:    ProviderTelegram,
			Subject:     "42",
			DisplayName: " Asha Rao ",
			Phone:       "919876543210",
			PhoneOwner:  "42",
		})
		require.NoError(t, err)
		assert.Equal(t, StableUID(ProviderTelegram, "42"), got.Identity.UID)
		assert.Equal(t, testPhone, pointer.Get(got.Phone))
		assert.Equal(t, "Asha Rao", pointer.Get(got.DisplayName))
		assert.Nil(t, got.Email)

		claims, err := f.signer.Parse(got.Identity.Token)
		require.NoError(t, err)
		assert.Equal(t, ProviderTelegram, claims.Provider)
	})
}

func TestSignerRejectsForeignTokens(t *testing.T) {
	signer, err := NewSigner("one", time.Hour)
	require.NoError(t, err)
	other, err := NewSigner("two", time.Hour)
	require.NoError(t, err)

	token, err := other.Issue(Identity{UID: "uid", Provider: ProviderPhone})
	require.NoError(t, err)

	_, err = signer.Parse(token)
	assert.Error(t, err)

	_, err = NewSigner("", time.Hour)
	assert.Error(t, err)
}

func TestWebhookSender(t *testing.T) {
	var (
		mu       sync.Mutex
		status   = http.StatusOK
		received webhookPayload
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "key")
	ctx := context.Background()

	require.NoError(t, sender.SendCode(ctx, testPhone, "123456"))

	mu.Lock()
	got := received
	mu.Unlock()
	assert.Equal(t, testPhone, got.To)
	assert.Contains(t, got.Message, "123456")

	cases := map[int]Code{
		http.StatusBadRequest:          CodeInvalidNumber,
		http.StatusUnauthorized:        CodeConfigError,
		http.StatusForbidden:           CodeCaptchaFailed,
		http.StatusTooManyRequests:     CodeRateLimited,
		http.StatusInternalServerError: CodeProviderError,
	}

	for code, want := range cases {
		mu.Lock()
		status = code
		mu.Unlock()

		requireCode(t, sender.SendCode(ctx, testPhone, "123456"), want)
	}

	require.NoError(t, sender.Rearm(ctx))

	mu.Lock()
	status = http.StatusAccepted
	mu.Unlock()
	assert.NoError(t, sender.SendCode(ctx, testPhone, "654321"))
}
