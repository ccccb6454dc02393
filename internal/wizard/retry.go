package wizard

import (
	"context"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/verify"
)

// RetryPolicy bounds how often a challenge request is repeated after a
// captcha rejection. Each repeat first re-arms the gateway's challenge
// resource. Other failures are never retried.
type RetryPolicy struct {
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2}
}

func (p RetryPolicy) do(ctx context.Context, rearm verify.Rearmer, call func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = call(ctx)
		if code, _ := verify.CodeOf(err); code != verify.CodeCaptchaFailed {
			return err
		}

		if attempt == attempts || rearm == nil {
			break
		}

		if rearmErr := rearm.Rearm(ctx); rearmErr != nil {
			return &verify.Error{Op: "RetryPolicy.Rearm", Code: verify.CodeConfigError, Err: rearmErr}
		}
	}

	return err
}
