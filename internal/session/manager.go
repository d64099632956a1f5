// Package session owns the logical conversation session: a backend-assigned
// identifier binding this device to one character. The manager is the sole
// writer of session state; everything else observes it read-only.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxtale/voxtale/internal/fault"
)

// State is the connection lifecycle state of the [Manager].
type State int

const (
	// Disconnected means no session exists. The initial state, and the
	// state reached after [Manager.Clear].
	Disconnected State = iota

	// Connecting means a session creation call is in flight.
	Connecting

	// Connected means a valid session exists and is bound to a character.
	Connected

	// Errored means the last creation attempt failed. A new attempt may be
	// started at any time.
	Errored
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// API is the subset of backend operations the manager drives.
type API interface {
	NewSession(ctx context.Context, characterID int) (string, error)
	DeleteSession(ctx context.Context, sessionID string, characterID int) error
	ClearHistory(ctx context.Context, sessionID string) error
}

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// API is the backend client used to create and tear down sessions.
	API API

	// Store persists sessions across restarts. May be nil, in which case
	// sessions live only in memory.
	Store Store
}

// Manager is the connection/session state machine. It owns at most one
// current session at a time and transitions between [Disconnected],
// [Connecting], [Connected] and [Errored] without ever leaving the state
// undefined, even when the backend call fails mid-way.
//
// All methods are safe for concurrent use.
type Manager struct {
	api   API
	store Store

	mu        sync.Mutex
	state     State
	current   Record
	lastError string
	onCleared []func()
}

// NewManager creates a [Manager] in the [Disconnected] state.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("session: manager requires an API client")
	}
	return &Manager{
		api:   cfg.API,
		store: cfg.Store,
		state: Disconnected,
	}, nil
}

// OnCleared registers a hook invoked whenever the session is cleared, after
// the state has returned to [Disconnected]. Used to flush caches whose
// lifetime is tied to the session.
func (m *Manager) OnCleared(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCleared = append(m.onCleared, fn)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the failure message of the most recent creation attempt,
// or "" if none failed. It is retained across state changes until the next
// failure overwrites it.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Current returns the current session record. ok is false unless the manager
// is [Connected].
func (m *Manager) Current() (rec Record, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.current.SessionID == "" {
		return Record{}, false
	}
	return m.current, true
}

// IsValid reports whether a usable session exists right now.
func (m *Manager) IsValid() bool {
	_, ok := m.Current()
	return ok
}

// CreateSession establishes a new backend session bound to characterID. On
// success the manager is [Connected] and the record is persisted; on failure
// the manager is [Errored] and the error is returned to the caller.
func (m *Manager) CreateSession(ctx context.Context, characterID int) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ctx, characterID)
}

func (m *Manager) createLocked(ctx context.Context, characterID int) (Record, error) {
	m.state = Connecting

	sessionID, err := m.api.NewSession(ctx, characterID)
	if err != nil {
		m.state = Errored
		m.lastError = err.Error()
		return Record{}, err
	}

	rec := Record{
		SessionID:   sessionID,
		CharacterID: characterID,
		CreatedAt:   time.Now(),
	}
	m.current = rec
	m.state = Connected

	if m.store != nil {
		if err := m.store.Save(ctx, rec); err != nil {
			// The session is usable without persistence; it just will
			// not survive a restart.
			slog.Warn("session persist failed", "character_id", characterID, "error", err)
		}
	}

	slog.Info("session established", "character_id", characterID, "session_id", sessionID)
	return rec, nil
}

// ValidateAndRefresh returns the current session if it is valid and bound to
// characterID. Otherwise it tries the persisted record for that character,
// then falls back to creating a fresh session.
func (m *Manager) ValidateAndRefresh(ctx context.Context, characterID int) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Connected && m.current.SessionID != "" && m.current.CharacterID == characterID {
		return m.current, nil
	}

	if m.store != nil {
		rec, err := m.store.Load(ctx, characterID)
		if err == nil {
			m.current = rec
			m.state = Connected
			slog.Info("session restored", "character_id", characterID, "session_id", rec.SessionID)
			return rec, nil
		}
		if !IsNotFound(err) {
			slog.Warn("session restore failed", "character_id", characterID, "error", err)
		}
	}

	return m.createLocked(ctx, characterID)
}

// ForceNew discards any existing session and creates a fresh one. Used when a
// scan event logically starts a new conversation regardless of prior state.
func (m *Manager) ForceNew(ctx context.Context, characterID int) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked(ctx)
	return m.createLocked(ctx, characterID)
}

// Clear wipes the in-memory and persisted session, tells the backend to drop
// its side best-effort, and returns the manager to [Disconnected].
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	cleared := m.clearLocked(ctx)
	hooks := m.onCleared
	m.mu.Unlock()

	if cleared {
		for _, fn := range hooks {
			fn()
		}
	}
}

// clearLocked tears down the current session. Backend teardown is
// best-effort: a dead backend must not keep the device stuck in a stale
// session. Returns true if there was a session to clear.
func (m *Manager) clearLocked(ctx context.Context) bool {
	rec := m.current
	m.current = Record{}
	m.state = Disconnected

	if rec.SessionID == "" {
		return false
	}

	if err := m.api.ClearHistory(ctx, rec.SessionID); err != nil {
		slog.Warn("history clear failed", "session_id", rec.SessionID, "error", err)
	}
	if err := m.api.DeleteSession(ctx, rec.SessionID, rec.CharacterID); err != nil {
		slog.Warn("session delete failed", "session_id", rec.SessionID, "error", err)
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, rec.CharacterID); err != nil {
			slog.Warn("persisted session delete failed", "character_id", rec.CharacterID, "error", err)
		}
	}

	slog.Info("session cleared", "character_id", rec.CharacterID)
	return true
}

// Require returns the current session or a state fault when none exists.
// Callers that need a session but must not create one use this.
func (m *Manager) Require() (Record, error) {
	rec, ok := m.Current()
	if !ok {
		return Record{}, fault.New(fault.State, "session.require", "no active session")
	}
	return rec, nil
}
