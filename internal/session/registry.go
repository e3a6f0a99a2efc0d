// Package session tracks the live translation sessions of the process.
//
// A [Session] is one active call: its owning text channel, its target
// language and the set of users currently speaking. The [Registry] holds at
// most one Session per call ID and owns their lifetime; closing a session runs
// the closer registered by the pipeline, which tears down the segmenter and
// the voice connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
)

// ErrSessionExists is returned by [Registry.Open] for an ID that is already
// open.
var ErrSessionExists = errors.New("session: already open")

// Session is the translation context bound to one active call. Fields other
// than the identity are guarded and read through methods.
type Session struct {
	// ID is the call ID (the Discord guild ID).
	ID string

	// SinkID is the text destination for results.
	SinkID string

	// VoiceChannelID is the joined voice channel.
	VoiceChannelID string

	// CreatedAt is the open time.
	CreatedAt time.Time

	mu       sync.RWMutex
	target   string
	speakers map[string]time.Time
	active   bool
	closer   func() error
}

// Status is a point-in-time view of a session for status reporting.
type Status struct {
	ID             string
	SinkID         string
	VoiceChannelID string
	TargetLanguage string
	CreatedAt      time.Time
	ActiveSpeakers []string
}

// TargetLanguage returns the current target language.
func (s *Session) TargetLanguage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ActiveSpeakers returns the sorted IDs of users currently speaking.
func (s *Session) ActiveSpeakers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.speakers))
	for id := range s.speakers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SetCloser registers the function that releases the session's resources.
// It runs exactly once, when the session is closed. Registering on a closed
// session runs fn immediately.
func (s *Session) SetCloser(fn func() error) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		if fn == nil {
			return nil
		}
		return fn()
	}
	s.closer = fn
	s.mu.Unlock()
	return nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	return Status{
		ID:             s.ID,
		SinkID:         s.SinkID,
		VoiceChannelID: s.VoiceChannelID,
		TargetLanguage: s.TargetLanguage(),
		CreatedAt:      s.CreatedAt,
		ActiveSpeakers: s.ActiveSpeakers(),
	}
}

// shutdown marks s inactive and returns its closer and speaker count. Only
// the first call returns a closer.
func (s *Session) shutdown() (func() error, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil, 0
	}
	s.active = false
	n := len(s.speakers)
	clear(s.speakers)
	fn := s.closer
	s.closer = nil
	return fn, n
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithMetrics records the active session and speaker gauges on m.
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry holds the live sessions. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	metrics  *observe.Metrics
	now      func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open creates the session id. It fails with [ErrSessionExists] when a
// session with this ID is already open.
func (r *Registry) Open(id, sinkID, voiceChannelID, targetLanguage string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session: open: empty session id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("session: open %q: %w", id, ErrSessionExists)
	}
	s := &Session{
		ID:             id,
		SinkID:         sinkID,
		VoiceChannelID: voiceChannelID,
		CreatedAt:      r.now(),
		target:         targetLanguage,
		speakers:       make(map[string]time.Time),
		active:         true,
	}
	r.sessions[id] = s
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Info("session: opened", "session_id", id, "sink_id", sinkID, "target_language", targetLanguage)
	return s, nil
}

// Close removes the session and runs its closer, which discards any audio
// not yet flushed. Closing an unknown session is a no-op. The closer's error
// is returned.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.release(s)
}

// release shuts s down outside the registry lock.
func (r *Registry) release(s *Session) error {
	closer, speakers := s.shutdown()
	if r.metrics != nil {
		ctx := context.Background()
		r.metrics.ActiveSessions.Add(ctx, -1)
		if speakers > 0 {
			r.metrics.ActiveSpeakers.Add(ctx, int64(-speakers))
		}
	}
	slog.Info("session: closed", "session_id", s.ID)
	if closer == nil {
		return nil
	}
	if err := closer(); err != nil {
		return fmt.Errorf("session: close %q: %w", s.ID, err)
	}
	return nil
}

// CloseAll closes every session and returns the joined closer errors.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := r.release(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetTargetLanguage changes the target language of session id for all future
// flushes. It reports whether the session exists; an unknown ID is a no-op.
func (r *Registry) SetTargetLanguage(id, lang string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.target = lang
	return true
}

// TrackSpeakerStart adds speakerID to the active-speaker set of session id.
// It only mirrors speaking state for status reporting.
func (r *Registry) TrackSpeakerStart(id, speakerID string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	_, already := s.speakers[speakerID]
	if s.active && !already {
		s.speakers[speakerID] = r.now()
	}
	added := s.active && !already
	s.mu.Unlock()
	if added && r.metrics != nil {
		r.metrics.ActiveSpeakers.Add(context.Background(), 1)
	}
}

// TrackSpeakerStop removes speakerID from the active-speaker set.
func (r *Registry) TrackSpeakerStop(id, speakerID string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	_, present := s.speakers[speakerID]
	delete(s.speakers, speakerID)
	s.mu.Unlock()
	if present && r.metrics != nil {
		r.metrics.ActiveSpeakers.Add(context.Background(), -1)
	}
}

// Get returns the open session id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Exists reports whether session id is open.
func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IsCurrent reports whether s is still the open session for its ID. A
// session closed and reopened under the same ID is not current.
func (r *Registry) IsCurrent(s *Session) bool {
	if s == nil {
		return false
	}
	cur, ok := r.Get(s.ID)
	return ok && cur == s
}

// List returns the sorted IDs of all open sessions.
func (r *Registry) List() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns the status of every open session, sorted by ID.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.ID, b.ID) })
	return out
}
