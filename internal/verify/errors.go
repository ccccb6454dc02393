package verify

import (
	"errors"
	"fmt"
)

// Code classifies a gateway failure.
type Code string

const (
	CodeInvalidNumber     Code = "invalid-number"
	CodeRateLimited       Code = "rate-limited"
	CodeCaptchaFailed     Code = "captcha-failed"
	CodeConfigError       Code = "config-error"
	CodeIncorrect         Code = "code-incorrect"
	CodeExpired           Code = "code-expired"
	CodeNoActiveChallenge Code = "no-active-challenge"
	CodeUserCancelled     Code = "user-cancelled"
	CodePopupBlocked      Code = "popup-blocked"
	CodeProviderError     Code = "provider-error"
)

type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// CodeOf extracts the gateway code from anywhere in err's chain.
func CodeOf(err error) (Code, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code, true
	}

	return "", false
}
