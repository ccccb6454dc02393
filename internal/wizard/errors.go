package wizard

import (
	"errors"
	"fmt"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/verify"
)

// Kind is the error class the UI reacts to.
type Kind string

const (
	KindInputValidation       Kind = "input-validation"
	KindVerificationTransient Kind = "verification-transient"
	KindChallengeFatal        Kind = "challenge-fatal"
	KindProviderConfiguration Kind = "provider-configuration"
	KindPersistence           Kind = "persistence"
	KindState                 Kind = "state"
)

var (
	ErrInvalidInput       = errors.New("input does not satisfy the step")
	ErrInFlight           = errors.New("operation already in flight")
	ErrNoPendingChallenge = errors.New("no pending challenge")
	ErrStaleResponse      = errors.New("response superseded")
	ErrSessionClosed      = errors.New("session closed")
	ErrAlreadyVerified    = errors.New("identity already verified")
	ErrIdentitySealed     = errors.New("identity steps are sealed after verification")
	ErrWrongStep          = errors.New("operation not available on this step")
	ErrNotVerified        = errors.New("identity not verified")
)

type Error struct {
	Op   string
	Kind Kind
	Step Step
	// Code is set when the failure came from the verification gateway.
	Code verify.Code
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("wizard.%s: %s", e.Op, e.Kind)
	if e.Code != "" {
		msg += " (" + string(e.Code) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the class of err, or "" when err is not a wizard error.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}

	return ""
}

func stateError(op string, step Step, err error) *Error {
	return &Error{Op: op, Kind: KindState, Step: step, Err: err}
}

func inputError(op string, step Step) *Error {
	return &Error{Op: op, Kind: KindInputValidation, Step: step, Err: ErrInvalidInput}
}

// classifyGateway maps a gateway failure to its error class.
func classifyGateway(op string, step Step, err error) *Error {
	code, ok := verify.CodeOf(err)
	if !ok {
		code = verify.CodeProviderError
	}

	e := &Error{Op: op, Step: step, Code: code, Err: err}

	switch code {
	case verify.CodeCaptchaFailed, verify.CodeConfigError:
		e.Kind = KindProviderConfiguration
	case verify.CodeExpired, verify.CodeNoActiveChallenge:
		e.Kind = KindChallengeFatal
	default:
		e.Kind = KindVerificationTransient
	}

	return e
}
