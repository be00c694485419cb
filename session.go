package leasing

import (
	"encoding/json"
	"sync"

	"github.com/juju/loggo/v2"
)

const sessionStorageKey = "accessToken"

// SessionStore holds the current authenticated session and mirrors it to
// Storage so a restart resumes where the last run stopped. A nil current
// session means logged out.
//
// Persistence failures are logged and swallowed: losing the mirror must
// never break an in-memory login.
type SessionStore struct {
	mu       sync.RWMutex
	storage  Storage
	logger   loggo.Logger
	current  *Session
	watchers []func(*Session)
}

// NewSessionStore loads any persisted session from storage. A malformed or
// missing record yields a logged-out store, never an error.
func NewSessionStore(storage Storage) *SessionStore {
	s := &SessionStore{
		storage: storage,
		logger:  loggo.GetLogger("leasing.session"),
	}
	data, err := storage.Get(sessionStorageKey)
	if err != nil {
		s.logger.Warningf("failed to load session: %v", err)
		return s
	}
	if len(data) == 0 {
		return s
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warningf("discarding unreadable session record: %v", err)
		return s
	}
	s.current = &sess
	return s
}

// Current returns the active session, or nil when logged out.
func (s *SessionStore) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the active session's auth token, or "" when logged out.
func (s *SessionStore) Token() string {
	return s.Current().AuthToken()
}

// Replace installs a new session (nil to log out), persists it, and
// notifies watchers. It always succeeds in memory.
func (s *SessionStore) Replace(sess *Session) {
	s.mu.Lock()
	s.current = sess
	watchers := make([]func(*Session), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	if sess == nil {
		if err := s.storage.Delete(sessionStorageKey); err != nil {
			s.logger.Warningf("failed to remove persisted session: %v", err)
		}
	} else {
		data, err := json.Marshal(sess)
		if err == nil {
			err = s.storage.Set(sessionStorageKey, data)
		}
		if err != nil {
			s.logger.Warningf("failed to persist session: %v", err)
		}
	}

	for _, w := range watchers {
		w(sess)
	}
}

// Clear logs out. Equivalent to Replace(nil).
func (s *SessionStore) Clear() {
	s.Replace(nil)
}

// Watch registers a callback invoked on every Replace. Callbacks run on
// the replacing goroutine.
func (s *SessionStore) Watch(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}
