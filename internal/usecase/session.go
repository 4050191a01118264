package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"codegen-agent/internal/domain"
)

// Session is one conversation thread: its history and the numbered options
// offered after the last assistant turn.
type Session struct {
	mu          sync.RWMutex
	ID          string
	Msgs        []domain.Message
	LastOptions map[int]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewSession creates an empty session. An empty id is replaced by a ULID.
func NewSession(id string) *Session {
	now := time.Now()
	if id == "" {
		id = generateULID(now)
	}
	return &Session{
		ID:          id,
		Msgs:        make([]domain.Message, 0),
		LastOptions: QuickStartOptions(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func sessionFromRecord(rec *domain.SessionRecord) *Session {
	msgs := rec.Messages
	if msgs == nil {
		msgs = make([]domain.Message, 0)
	}
	return &Session{
		ID:          rec.ID,
		Msgs:        msgs,
		LastOptions: rec.LastOptions,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// AddMessage appends a message and updates the timestamp (thread-safe).
func (s *Session) AddMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Msgs = append(s.Msgs, msg)
	s.UpdatedAt = time.Now()
}

// Messages returns a copy of the message history (thread-safe).
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.Msgs))
	copy(cp, s.Msgs)
	return cp
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Msgs)
}

// ReplaceMessages swaps the whole history, e.g. for its repaired form.
func (s *Session) ReplaceMessages(msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]domain.Message, len(msgs))
	copy(cp, msgs)
	s.Msgs = cp
}

// SetOptions replaces the numbered options. nil clears them.
func (s *Session) SetOptions(opts map[int]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastOptions = opts
}

// Options returns a copy of the numbered options.
func (s *Session) Options() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.LastOptions) == 0 {
		return nil
	}
	cp := make(map[int]string, len(s.LastOptions))
	for k, v := range s.LastOptions {
		cp[k] = v
	}
	return cp
}

type sessionSnapshot struct {
	msgs      []domain.Message
	options   map[int]string
	updatedAt time.Time
}

func (s *Session) snapshot() sessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]domain.Message, len(s.Msgs))
	copy(msgs, s.Msgs)
	return sessionSnapshot{msgs: msgs, options: s.LastOptions, updatedAt: s.UpdatedAt}
}

func (s *Session) restore(snap sessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Msgs = snap.msgs
	s.LastOptions = snap.options
	s.UpdatedAt = snap.updatedAt
}

// Record returns the persistable form of the session.
func (s *Session) Record() *domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]domain.Message, len(s.Msgs))
	copy(msgs, s.Msgs)
	var opts map[int]string
	if len(s.LastOptions) > 0 {
		opts = make(map[int]string, len(s.LastOptions))
		for k, v := range s.LastOptions {
			opts[k] = v
		}
	}
	return &domain.SessionRecord{
		ID:          s.ID,
		Messages:    msgs,
		LastOptions: opts,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Summary returns the listing view of the session.
func (s *Session) Summary() domain.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionSummary{
		ID:           s.ID,
		MessageCount: len(s.Msgs),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// SessionManager caches live sessions in front of a SessionStore.
// New sessions exist only in memory until their first Save.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    domain.SessionStore
	logger   *slog.Logger
}

// NewSessionManager creates a session manager persisting through store.
func NewSessionManager(store domain.SessionStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger,
	}
}

// validateSessionID checks if a session ID is safe to use as a storage key.
// It rejects path separators, parent directory references, and null bytes.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if len(id) > 128 {
		return fmt.Errorf("session ID longer than 128 bytes")
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("session ID contains path separators: %q", id)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session ID contains parent directory reference: %q", id)
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session ID contains null byte: %q", id)
	}
	if clean := filepath.Clean(id); clean != id {
		return fmt.Errorf("session ID not clean path: %q vs %q", id, clean)
	}
	return nil
}

func invalidID(op string, err error) error {
	return domain.NewDomainError(op, domain.ErrInvalidSessionID, err.Error())
}

func storeError(op, id string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrSessionNotFound) {
		return domain.NewSubSystemError("store", op, err, id)
	}
	return domain.NewSubSystemError("store", op, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err), id)
}

// GetOrCreate returns the session for id, loading it from the store when it
// is not cached. Unknown ids create a new session; an empty id creates one
// with a generated ULID. created reports whether the session is new.
func (sm *SessionManager) GetOrCreate(ctx context.Context, id string) (s *Session, created bool, err error) {
	if id == "" {
		s = NewSession("")
		sm.mu.Lock()
		sm.sessions[s.ID] = s
		sm.mu.Unlock()
		return s, true, nil
	}
	if err := validateSessionID(id); err != nil {
		return nil, false, invalidID("SessionManager.GetOrCreate", err)
	}

	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if ok {
		return s, false, nil
	}

	rec, err := sm.store.Load(ctx, id)
	switch {
	case err == nil:
		s = sessionFromRecord(rec)
	case errors.Is(err, domain.ErrSessionNotFound):
		s = NewSession(id)
		created = true
	default:
		return nil, false, storeError("SessionManager.GetOrCreate", id, err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	// Another caller may have loaded it meanwhile.
	if existing, ok := sm.sessions[id]; ok {
		return existing, false, nil
	}
	sm.sessions[id] = s
	return s, created, nil
}

// Get returns an existing session or ErrSessionNotFound.
func (sm *SessionManager) Get(ctx context.Context, id string) (*Session, error) {
	if err := validateSessionID(id); err != nil {
		return nil, invalidID("SessionManager.Get", err)
	}

	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if ok {
		return s, nil
	}

	rec, err := sm.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.NewDomainError("SessionManager.Get", domain.ErrSessionNotFound, id)
		}
		return nil, storeError("SessionManager.Get", id, err)
	}

	s = sessionFromRecord(rec)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if existing, ok := sm.sessions[id]; ok {
		return existing, nil
	}
	sm.sessions[id] = s
	return s, nil
}

// Save persists the session's current state.
func (sm *SessionManager) Save(ctx context.Context, s *Session) error {
	if err := sm.store.Save(ctx, s.Record()); err != nil {
		return storeError("SessionManager.Save", s.ID, err)
	}
	return nil
}

// Delete removes a session from memory and the store. Deleting an id that
// is neither cached nor stored returns ErrSessionNotFound.
func (sm *SessionManager) Delete(ctx context.Context, id string) error {
	if err := validateSessionID(id); err != nil {
		return invalidID("SessionManager.Delete", err)
	}

	sm.mu.Lock()
	_, cached := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	err := sm.store.Delete(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrSessionNotFound):
		if cached {
			return nil
		}
		return domain.NewDomainError("SessionManager.Delete", domain.ErrSessionNotFound, id)
	default:
		return storeError("SessionManager.Delete", id, err)
	}
}

// List returns stored sessions plus cached ones not yet saved, most
// recently updated first.
func (sm *SessionManager) List(ctx context.Context) ([]domain.SessionSummary, error) {
	stored, err := sm.store.List(ctx)
	if err != nil {
		return nil, storeError("SessionManager.List", "", err)
	}

	byID := make(map[string]domain.SessionSummary, len(stored))
	for _, sum := range stored {
		byID[sum.ID] = sum
	}
	sm.mu.RLock()
	for id, s := range sm.sessions {
		byID[id] = s.Summary()
	}
	sm.mu.RUnlock()

	out := make([]domain.SessionSummary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ActiveCount returns the number of sessions held in memory.
func (sm *SessionManager) ActiveCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ReapStale deletes sessions not updated within maxAge, in memory and in the
// store, and returns how many were removed.
func (sm *SessionManager) ReapStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	all, err := sm.List(ctx)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, sum := range all {
		if !sum.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := sm.Delete(ctx, sum.ID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			sm.logger.Warn("reap session failed", "session_id", sum.ID, "error", err)
			continue
		}
		reaped++
	}
	return reaped, nil
}
