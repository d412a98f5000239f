// Package session tracks per-user bridge state: the active Genie space, the
// remote conversation being continued, and the user's bearer credential.
package session

import "sync"

// Session is one user's slot. State lives only for the process lifetime.
type Session struct {
	UserID         string
	SpaceID        string
	ConversationID string
	Token          string
}

// Authenticated reports whether the user holds a credential.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Store is an in-memory session map keyed by user id. All mutation goes
// through the narrow setters so related fields stay consistent under
// concurrent turns from different users.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns a copy of the user's session, creating an empty slot lazily.
func (s *Store) Get(userID string) Session {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	if ok {
		copied := *sess
		s.mu.RUnlock()
		return copied
	}
	s.mu.RUnlock()
	return Session{UserID: userID}
}

// Init provisions a fresh, unauthenticated slot for a newly joined user,
// discarding any previous state.
func (s *Store) Init(userID string) {
	s.mu.Lock()
	s.sessions[userID] = &Session{UserID: userID}
	s.mu.Unlock()
}

// SetSpace switches the active space. The remote conversation id is cleared
// in the same critical section: a new space always starts a new conversation.
func (s *Store) SetSpace(userID, spaceID string) {
	s.mu.Lock()
	sess := s.ensure(userID)
	sess.SpaceID = spaceID
	sess.ConversationID = ""
	s.mu.Unlock()
}

// SetConversation records the remote conversation id to continue next turn.
func (s *Store) SetConversation(userID, conversationID string) {
	s.mu.Lock()
	s.ensure(userID).ConversationID = conversationID
	s.mu.Unlock()
}

// SetToken stores the user's bearer credential.
func (s *Store) SetToken(userID, token string) {
	s.mu.Lock()
	s.ensure(userID).Token = token
	s.mu.Unlock()
}

// Clear wipes credential, space and conversation on logout.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	s.sessions[userID] = &Session{UserID: userID}
	s.mu.Unlock()
}

// ensure must be called with the write lock held.
func (s *Store) ensure(userID string) *Session {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &Session{UserID: userID}
		s.sessions[userID] = sess
	}
	return sess
}
