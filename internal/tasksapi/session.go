package tasksapi

import "sync"

// Session holds the client for the signed-in user. Until SignIn is called
// the service is reported as not ready.
type Session struct {
	mu     sync.RWMutex
	client Client
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) SignIn(client Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
}

func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
}

// Current returns the active client, if any.
func (s *Session) Current() (Client, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.client != nil
}
