package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/voxtale/voxtale/internal/fault"
)

// fakeAPI implements API with scriptable failures and call accounting.
type fakeAPI struct {
	mu           sync.Mutex
	newErr       error
	nextID       int
	created      []int
	deleted      []string
	clearedHists []string
}

func (f *fakeAPI) NewSession(_ context.Context, characterID int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return "", f.newErr
	}
	f.nextID++
	f.created = append(f.created, characterID)
	return fmt.Sprintf("conn-%d", f.nextID), nil
}

func (f *fakeAPI) DeleteSession(_ context.Context, sessionID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeAPI) ClearHistory(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedHists = append(f.clearedHists, sessionID)
	return nil
}

func newTestManager(t *testing.T, api *fakeAPI, store Store) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{API: api, Store: store})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManagerInitialState(t *testing.T) {
	m := newTestManager(t, &fakeAPI{}, nil)
	if m.State() != Disconnected {
		t.Errorf("initial state = %v, want disconnected", m.State())
	}
	if m.IsValid() {
		t.Error("IsValid on fresh manager")
	}
}

func TestCreateSession(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(t, api, nil)

	rec, err := m.CreateSession(context.Background(), 42)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if rec.SessionID != "conn-1" || rec.CharacterID != 42 {
		t.Errorf("record = %+v", rec)
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want connected", m.State())
	}
	if !m.IsValid() {
		t.Error("IsValid = false after successful create")
	}
}

func TestCreateSessionFailureLandsInErrored(t *testing.T) {
	api := &fakeAPI{newErr: fault.New(fault.Transport, "backend.session_new", "connection refused")}
	m := newTestManager(t, api, nil)

	_, err := m.CreateSession(context.Background(), 42)
	if !fault.IsKind(err, fault.Transport) {
		t.Fatalf("err = %v, want transport fault", err)
	}
	if m.State() != Errored {
		t.Errorf("state = %v, want error", m.State())
	}
	if m.LastError() == "" {
		t.Error("LastError empty after failed create")
	}
	if m.IsValid() {
		t.Error("IsValid true in error state")
	}

	// A later retry is independent of the earlier failure.
	api.mu.Lock()
	api.newErr = nil
	api.mu.Unlock()
	if _, err := m.CreateSession(context.Background(), 42); err != nil {
		t.Fatalf("retry CreateSession: %v", err)
	}
	if m.State() != Connected {
		t.Errorf("state after retry = %v, want connected", m.State())
	}
}

func TestValidateAndRefreshReusesCurrent(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(t, api, nil)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, 42)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	again, err := m.ValidateAndRefresh(ctx, 42)
	if err != nil {
		t.Fatalf("ValidateAndRefresh: %v", err)
	}
	if again.SessionID != first.SessionID {
		t.Errorf("got new session %q, want reuse of %q", again.SessionID, first.SessionID)
	}
	if len(api.created) != 1 {
		t.Errorf("backend create called %d times, want 1", len(api.created))
	}
}

func TestValidateAndRefreshReplacesOnCharacterChange(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(t, api, nil)
	ctx := context.Background()

	if _, err := m.CreateSession(ctx, 42); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	rec, err := m.ValidateAndRefresh(ctx, 7)
	if err != nil {
		t.Fatalf("ValidateAndRefresh: %v", err)
	}
	if rec.CharacterID != 7 {
		t.Errorf("CharacterID = %d, want 7", rec.CharacterID)
	}
	if len(api.created) != 2 {
		t.Errorf("backend create called %d times, want 2", len(api.created))
	}
}

func TestValidateAndRefreshRestoresPersisted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, Record{SessionID: "persisted", CharacterID: 42}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	api := &fakeAPI{}
	m := newTestManager(t, api, store)

	rec, err := m.ValidateAndRefresh(ctx, 42)
	if err != nil {
		t.Fatalf("ValidateAndRefresh: %v", err)
	}
	if rec.SessionID != "persisted" {
		t.Errorf("SessionID = %q, want persisted", rec.SessionID)
	}
	if len(api.created) != 0 {
		t.Errorf("backend create called %d times, want 0", len(api.created))
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want connected", m.State())
	}
}

func TestForceNewReplacesValidSession(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(t, api, nil)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, 42)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := m.ForceNew(ctx, 42)
	if err != nil {
		t.Fatalf("ForceNew: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Errorf("ForceNew reused session %q", first.SessionID)
	}
	if len(api.deleted) != 1 || api.deleted[0] != first.SessionID {
		t.Errorf("deleted = %v, want [%s]", api.deleted, first.SessionID)
	}
}

func TestClear(t *testing.T) {
	store := openTestStore(t)
	api := &fakeAPI{}
	m := newTestManager(t, api, store)
	ctx := context.Background()

	cleared := 0
	m.OnCleared(func() { cleared++ })

	rec, err := m.CreateSession(ctx, 42)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	m.Clear(ctx)

	if m.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", m.State())
	}
	if cleared != 1 {
		t.Errorf("OnCleared hooks ran %d times, want 1", cleared)
	}
	if len(api.clearedHists) != 1 || api.clearedHists[0] != rec.SessionID {
		t.Errorf("history clears = %v", api.clearedHists)
	}
	if _, err := store.Load(ctx, 42); !IsNotFound(err) {
		t.Errorf("persisted record survived clear: %v", err)
	}

	// Clearing with no session is a no-op and must not fire hooks.
	m.Clear(ctx)
	if cleared != 1 {
		t.Errorf("OnCleared fired on empty clear (count %d)", cleared)
	}
}

func TestRequire(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(t, api, nil)

	_, err := m.Require()
	if !fault.IsKind(err, fault.State) {
		t.Fatalf("err = %v, want state fault", err)
	}

	if _, err := m.CreateSession(context.Background(), 1); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := m.Require(); err != nil {
		t.Errorf("Require with active session: %v", err)
	}
}

func TestNewManagerRequiresAPI(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Fatal("expected error for nil API")
	}
}
