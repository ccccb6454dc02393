package bot

import (
	"sync"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/wizard"
)

// sessions keeps one wizard session per chat.
type sessions struct {
	mu     sync.Mutex
	byChat map[int64]*wizard.Session
}

func newSessions() *sessions {
	return &sessions{byChat: make(map[int64]*wizard.Session)}
}

// get returns the chat's session, creating one on first contact.
func (s *sessions) get(chatID int64) (*wizard.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.byChat[chatID]; ok {
		return session, false
	}

	session := wizard.NewSession()
	s.byChat[chatID] = session

	return session, true
}

// take removes the chat's session and returns it, or nil.
func (s *sessions) take(chatID int64) *wizard.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.byChat[chatID]
	delete(s.byChat, chatID)

	return session
}

// drain removes and returns every session.
func (s *sessions) drain() []*wizard.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*wizard.Session, 0, len(s.byChat))
	for chatID, session := range s.byChat {
		out = append(out, session)
		delete(s.byChat, chatID)
	}

	return out
}
