package wizard

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/profile"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/protein"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/verify"
)

type Submission int

const (
	SubmissionNotAttempted Submission = iota
	SubmissionSucceeded
	SubmissionFailed
)

func (s Submission) String() string {
	switch s {
	case SubmissionSucceeded:
		return "succeeded"
	case SubmissionFailed:
		return "failed"
	default:
		return "not-attempted"
	}
}

// Fields are the raw answers collected so far. Phone holds the 10 local
// digits without country code.
type Fields struct {
	Phone     string
	Code      string
	Name      string
	Email     string
	Age       int
	Sex       profile.Sex
	Weight    float64
	Lifestyle profile.Lifestyle
	Diet      profile.Diet
}

type pendingChallenge struct {
	id        string
	expiresAt time.Time
}

type InFlight struct {
	Request bool
	Confirm bool
	Submit  bool
}

// Session is the state of one signup attempt. It is owned by a Controller
// and passed explicitly to every operation; nothing about it is global.
type Session struct {
	ID string

	mu         sync.Mutex
	step       Step
	fields     Fields
	identity   *verify.Identity
	submission Submission
	result     *protein.Range
	pending    *pendingChallenge
	// epoch changes whenever the pending challenge is superseded; gateway
	// responses from an older epoch are dropped.
	epoch    uint64
	inFlight InFlight
	lastErr  *Error
	stalled  *Error
	closed   bool
}

func NewSession() *Session {
	return &Session{
		ID:   uuid.NewString(),
		step: firstStep,
	}
}

// SetPhone keeps digits only. Once a phone-verified identity exists the
// number is locked to it.
func (s *Session) SetPhone(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity != nil && s.identity.Provider == verify.ProviderPhone {
		return
	}
	s.fields.Phone = NormalizeDigits(raw)
}

func (s *Session) SetCode(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Code = strings.TrimSpace(raw)
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Name = name
}

func (s *Session) SetEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Email = strings.TrimSpace(email)
}

func (s *Session) SetAge(age int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Age = age
}

func (s *Session) SetSex(sex profile.Sex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Sex = sex
}

func (s *Session) SetWeight(weight float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Weight = weight
}

func (s *Session) SetLifestyle(lifestyle profile.Lifestyle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Lifestyle = lifestyle
}

func (s *Session) SetDiet(diet profile.Diet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Diet = diet
}

// Step is a convenience for callers that only need the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// usable must be called with mu held.
func (s *Session) usable(op string) *Error {
	if s.closed {
		return stateError(op, s.step, ErrSessionClosed)
	}

	if s.stalled != nil {
		return s.stalled
	}

	return nil
}

// fail records err as the last error. Must be called with mu held.
func (s *Session) fail(err *Error) *Error {
	s.lastErr = err
	if err.Kind == KindProviderConfiguration {
		s.stalled = err
	}

	return err
}

// supersede drops the pending challenge and returns its id. Must be called
// with mu held.
func (s *Session) supersede() string {
	s.epoch++

	if s.pending == nil {
		return ""
	}

	id := s.pending.id
	s.pending = nil
	s.fields.Code = ""

	return id
}
