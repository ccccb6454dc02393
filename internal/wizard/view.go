package wizard

import (
	"time"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/protein"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/verify"
)

// View is a consistent snapshot of a session for rendering.
type View struct {
	SessionID string
	Step      Step
	Valid     map[Step]bool
	Fields    Fields
	InFlight  InFlight
	LastError *Error
	Stalled   bool
	Closed    bool

	Identity           *verify.Identity
	ChallengePending   bool
	ChallengeExpiresAt time.Time

	// Preview is derived from the current answers and changes with them.
	// Recommendation is the range that was persisted by the last
	// successful submission.
	Preview        *protein.Range
	Recommendation *protein.Range
	Submission     Submission
}

func (c *Controller) View(s *Session) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		SessionID:  s.ID,
		Step:       s.step,
		Valid:      make(map[Step]bool, lastStep+1),
		Fields:     s.fields,
		InFlight:   s.inFlight,
		LastError:  s.lastErr,
		Stalled:    s.stalled != nil,
		Closed:     s.closed,
		Submission: s.submission,
	}

	for _, step := range Steps() {
		v.Valid[step] = c.valid(s, step)
	}

	if s.identity != nil {
		identity := *s.identity
		v.Identity = &identity
	}

	if s.pending != nil {
		v.ChallengePending = true
		v.ChallengeExpiresAt = s.pending.expiresAt
	}

	if ValidWeight(s.fields.Weight) && s.fields.Lifestyle.Valid() {
		preview := protein.Recommend(s.fields.Weight, s.fields.Lifestyle)
		v.Preview = &preview
	}

	if s.result != nil {
		rng := *s.result
		v.Recommendation = &rng
	}

	return v
}
