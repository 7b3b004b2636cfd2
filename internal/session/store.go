// Package session owns the registry of active conversion sessions and the
// per-session progress channel.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/constants"
	"github.com/PhilippeHo27/mp3maker/internal/models"
	"github.com/PhilippeHo27/mp3maker/internal/ytdlp"
)

var (
	// ErrNotFound is returned for operations on unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the registry is at capacity.
	ErrTooManySessions = errors.New("too many concurrent sessions")
)

// Session is one client's URL-to-artifact conversion request. All mutation
// goes through the Store; Get returns copies.
type Session struct {
	ID        string
	URL       string
	Platform  string
	State     models.SessionState
	CreatedAt time.Time

	// Title and ThumbnailURL are populated opportunistically from the
	// metadata fetch and may stay empty.
	Title        string
	ThumbnailURL string

	// TempBase is the extension-less output base; ResultFile is set once
	// the artifact exists and cleared when it is retrieved.
	TempBase   string
	ResultFile string

	// LastEvent is retained so a late subscriber still learns the current
	// state. MaxPercent is the monotonic high-water mark.
	LastEvent  *models.ProgressEvent
	MaxPercent float64

	handle     *ytdlp.Handle
	subscriber chan models.ProgressEvent

	// terminalAt is when the session entered a terminal state; it drives
	// the expiry sweep for sessions nobody came back for.
	terminalAt time.Time
}

// Store is the process-wide session registry and progress broadcaster.
// It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// NewStore creates a registry bounded to maxSessions concurrent entries.
func NewStore(maxSessions int) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create registers a new session for a URL and returns its id.
func (s *Store) Create(url, platform string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.maxSessions {
		return nil, ErrTooManySessions
	}

	sess := &Session{
		ID:        uuid.NewString(),
		URL:       url,
		Platform:  platform,
		State:     models.StateCreated,
		CreatedAt: time.Now(),
	}
	s.sessions[sess.ID] = sess
	return &Session{ID: sess.ID, URL: sess.URL, Platform: sess.Platform, State: sess.State, CreatedAt: sess.CreatedAt}, nil
}

// Get retrieves a copy of the session for an id.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, exists := s.sessions[id]
	if !exists {
		return Session{}, false
	}
	return *sess, true
}

// Count returns the number of registered sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Remove evicts a session, closing any open subscriber channel.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	sess, exists := s.sessions[id]
	if exists {
		if sess.subscriber != nil {
			close(sess.subscriber)
			sess.subscriber = nil
		}
		delete(s.sessions, id)
	}
	s.mu.Unlock()
}

// terminal states absorb every transition attempt.
func isTerminal(state models.SessionState) bool {
	return state == models.StateComplete || state == models.StateFailed
}

// SetState advances a session's state. Transitions out of a terminal state
// are rejected.
func (s *Store) SetState(id string, state models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, exists := s.sessions[id]
	if !exists {
		return ErrNotFound
	}
	if isTerminal(sess.State) && sess.State != state {
		return errors.New("session already in terminal state " + string(sess.State))
	}
	sess.State = state
	if isTerminal(state) && sess.terminalAt.IsZero() {
		sess.terminalAt = time.Now()
	}
	return nil
}

// ExpireTerminal evicts sessions that have sat in a terminal state longer
// than retention, closing any subscriber channel. It returns copies of the
// evicted sessions so the caller can delete their files.
func (s *Store) ExpireTerminal(retention time.Duration) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Session
	now := time.Now()
	for id, sess := range s.sessions {
		if !isTerminal(sess.State) || sess.terminalAt.IsZero() || now.Sub(sess.terminalAt) < retention {
			continue
		}
		if sess.subscriber != nil {
			close(sess.subscriber)
			sess.subscriber = nil
		}
		expired = append(expired, *sess)
		delete(s.sessions, id)
	}
	return expired
}

// SetMetadata records the best-effort title and thumbnail reference.
func (s *Store) SetMetadata(id, title, thumbnailURL string) {
	s.mu.Lock()
	if sess, exists := s.sessions[id]; exists {
		sess.Title = title
		sess.ThumbnailURL = thumbnailURL
	}
	s.mu.Unlock()
}

// SetTempBase records the output base path owned by the session.
func (s *Store) SetTempBase(id, tempBase string) {
	s.mu.Lock()
	if sess, exists := s.sessions[id]; exists {
		sess.TempBase = tempBase
	}
	s.mu.Unlock()
}

// SetResultFile records the completed artifact path.
func (s *Store) SetResultFile(id, path string) {
	s.mu.Lock()
	if sess, exists := s.sessions[id]; exists {
		sess.ResultFile = path
	}
	s.mu.Unlock()
}

// TakeResultFile atomically claims the artifact for a session. A second
// call for the same session finds nothing, which is what makes retrieval
// single-shot.
func (s *Store) TakeResultFile(id string) (path, title string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, exists := s.sessions[id]
	if !exists || sess.ResultFile == "" {
		return "", "", false
	}
	path = sess.ResultFile
	title = sess.Title
	sess.ResultFile = ""
	return path, title, true
}

// AttachHandle associates the running subprocess with a session. At most
// one subprocess may be attached at a time.
func (s *Store) AttachHandle(id string, handle *ytdlp.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, exists := s.sessions[id]
	if !exists {
		return ErrNotFound
	}
	if sess.handle != nil {
		return errors.New("session already has an attached subprocess")
	}
	sess.handle = handle
	return nil
}

// DetachHandle removes the subprocess association.
func (s *Store) DetachHandle(id string) {
	s.mu.Lock()
	if sess, exists := s.sessions[id]; exists {
		sess.handle = nil
	}
	s.mu.Unlock()
}

// Handle returns the attached subprocess handle, if any.
func (s *Store) Handle(id string) (*ytdlp.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, exists := s.sessions[id]
	if !exists || sess.handle == nil {
		return nil, false
	}
	return sess.handle, true
}

// Subscribe registers the progress channel for a session, replacing and
// closing any previous one. The retained last event, if any, is replayed
// into the new channel before live events arrive.
func (s *Store) Subscribe(id string) (<-chan models.ProgressEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, exists := s.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}

	if sess.subscriber != nil {
		close(sess.subscriber)
	}
	ch := make(chan models.ProgressEvent, constants.SSESubscriberBufferSize)
	sess.subscriber = ch

	if sess.LastEvent != nil {
		ch <- *sess.LastEvent
	}
	return ch, nil
}

// Unsubscribe clears the session's channel slot if ch is still current
// and closes it.
func (s *Store) Unsubscribe(id string, ch <-chan models.ProgressEvent) {
	s.mu.Lock()
	if sess, exists := s.sessions[id]; exists && sess.subscriber != nil && (<-chan models.ProgressEvent)(sess.subscriber) == ch {
		close(sess.subscriber)
		sess.subscriber = nil
	}
	s.mu.Unlock()
}

// HasSubscriber reports whether a progress channel is currently registered.
func (s *Store) HasSubscriber(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, exists := s.sessions[id]
	return exists && sess.subscriber != nil
}

// Publish delivers an event to the session's subscriber, if present, and
// retains it as the last event. Percent is clamped to the session's
// high-water mark so delivered progress never regresses; terminal events
// are exempt from the clamp.
func (s *Store) Publish(id string, event models.ProgressEvent) {
	s.mu.Lock()
	sess, exists := s.sessions[id]
	if !exists {
		s.mu.Unlock()
		return
	}

	if !event.Terminal() {
		if event.Percent < sess.MaxPercent {
			event.Percent = sess.MaxPercent
		} else {
			sess.MaxPercent = event.Percent
		}
	}

	retained := event
	sess.LastEvent = &retained

	ch := sess.subscriber
	if ch != nil {
		select {
		case ch <- event:
		default:
			// Best-effort delivery; the retained last event covers a
			// subscriber that fell behind.
			logrus.WithField("session", id).Debug("Dropped progress event for slow subscriber")
		}
	}
	s.mu.Unlock()
}
