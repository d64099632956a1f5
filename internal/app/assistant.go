// Package app wires the voxtale subsystems into the assistant facade the
// excluded outer layers (UI, transcription, tag scanning) talk to.
//
// The Assistant owns the conversation flow: a scan event binds the device to
// a character, transcribed utterances become chat requests, and replies are
// spoken through the streaming synthesis session. The outer layers interact
// only through the collaborator callbacks and the two entry points
// [Assistant.OnScan] and [Assistant.OnTranscribedText].
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxtale/voxtale/internal/backend"
	"github.com/voxtale/voxtale/internal/directory"
	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/internal/health"
	"github.com/voxtale/voxtale/internal/observe"
	"github.com/voxtale/voxtale/internal/session"
	"github.com/voxtale/voxtale/internal/synth"
)

// ChatAPI is the subset of backend operations the assistant drives directly.
type ChatAPI interface {
	Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatReply, error)
}

// Callbacks are the collaborator interfaces exposed to the outer layers.
// Any of them may be nil. They are invoked from internal goroutines and must
// not block.
type Callbacks struct {
	// OnError receives the user-visible message of every surfaced failure.
	OnError func(message string)

	// OnCharacterResolved fires after a scan once the character profile is
	// known.
	OnCharacterResolved func(profile directory.Profile)
}

// VoiceDefaults are the synthesis parameters applied to every utterance.
type VoiceDefaults struct {
	Speed   float64
	Pitch   int
	Emotion string
}

// Config configures an [Assistant].
type Config struct {
	// Chat is the backend chat client. Required.
	Chat ChatAPI

	// Sessions owns the conversation session lifecycle. Required.
	Sessions *session.Manager

	// Directory resolves character profiles. Required.
	Directory *directory.Directory

	// Synth is the streaming synthesis session. Required.
	Synth *synth.Session

	// Monitor provides the connectivity indicator. May be nil.
	Monitor *health.Monitor

	// Voice fills unset synthesis parameters. Zero values default to
	// speed 1.0, pitch 0, emotion "neutral".
	Voice VoiceDefaults

	// Callbacks are the collaborator hooks. All optional.
	Callbacks Callbacks

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// Assistant is the conversation facade. All methods are safe for concurrent
// use.
type Assistant struct {
	chat      ChatAPI
	sessions  *session.Manager
	directory *directory.Directory
	synth     *synth.Session
	monitor   *health.Monitor
	voice     VoiceDefaults
	callbacks Callbacks
	metrics   *observe.Metrics
	deviceID  string

	mu        sync.Mutex
	character int // 0 = no character scanned yet
	lastError string
}

// New creates an [Assistant] and wires the cross-component hooks, notably
// that clearing the session flushes the directory cache. The playback state
// callback is wired where the synthesis session is constructed.
func New(cfg Config) (*Assistant, error) {
	if cfg.Chat == nil {
		return nil, fmt.Errorf("app: a chat client is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("app: a session manager is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("app: a character directory is required")
	}
	if cfg.Synth == nil {
		return nil, fmt.Errorf("app: a synthesis session is required")
	}

	voice := cfg.Voice
	if voice.Speed <= 0 {
		voice.Speed = 1.0
	}
	if voice.Emotion == "" {
		voice.Emotion = "neutral"
	}

	a := &Assistant{
		chat:      cfg.Chat,
		sessions:  cfg.Sessions,
		directory: cfg.Directory,
		synth:     cfg.Synth,
		monitor:   cfg.Monitor,
		voice:     voice,
		callbacks: cfg.Callbacks,
		metrics:   cfg.Metrics,
		deviceID:  uuid.NewString(),
	}
	a.sessions.OnCleared(a.directory.Reset)

	slog.Info("assistant initialised", "device_id", a.deviceID)
	return a, nil
}

// Run forwards terminal synthesis errors to the error callback until ctx
// ends. Blocking; run it on its own goroutine.
func (a *Assistant) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-a.synth.Errors():
			a.fail(err)
		}
	}
}

// DeviceID returns the per-process device identifier used in logs and
// diagnostics.
func (a *Assistant) DeviceID() string { return a.deviceID }

// Connected reports backend connectivity, false when no monitor is wired.
func (a *Assistant) Connected() bool {
	return a.monitor != nil && a.monitor.Connected()
}

// LastError returns the most recent user-visible failure message.
func (a *Assistant) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// OnScan handles an identity token scan: it interrupts any ongoing speech,
// starts a fresh conversation session for the character and resolves its
// profile. A scan is a logical conversation restart regardless of prior
// state.
func (a *Assistant) OnScan(ctx context.Context, characterID int) (directory.Profile, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.scan")
	defer span.End()

	a.synth.Stop()

	if _, err := a.sessions.ForceNew(ctx, characterID); err != nil {
		return directory.Profile{}, a.fail(err)
	}

	profile, err := a.directory.Resolve(ctx, characterID)
	if err != nil {
		return directory.Profile{}, a.fail(err)
	}

	a.mu.Lock()
	a.character = characterID
	a.mu.Unlock()

	if a.callbacks.OnCharacterResolved != nil {
		a.callbacks.OnCharacterResolved(profile)
	}
	observe.Logger(ctx).Info("character scanned",
		"character_id", characterID,
		"name", profile.DisplayName,
		"availability", profile.Availability.String(),
	)
	return profile, nil
}

// OnTranscribedText handles one transcribed utterance: it ensures a valid
// session, sends the chat request, and speaks the reply through the
// synthesis pipeline. The reply text is returned so the UI can display it.
func (a *Assistant) OnTranscribedText(ctx context.Context, text string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.utterance")
	defer span.End()

	if text == "" {
		return "", a.fail(fault.New(fault.State, "app.transcribed_text", "utterance must not be empty"))
	}

	a.mu.Lock()
	characterID := a.character
	a.mu.Unlock()
	if characterID == 0 {
		return "", a.fail(fault.New(fault.State, "app.transcribed_text", "no character scanned"))
	}

	profile, err := a.directory.Resolve(ctx, characterID)
	if err != nil {
		return "", a.fail(err)
	}
	if profile.Availability == directory.Inactive {
		return "", a.fail(fault.Newf(fault.State, "app.transcribed_text",
			"character %q is not available", profile.DisplayName))
	}

	rec, err := a.sessions.ValidateAndRefresh(ctx, characterID)
	if err != nil {
		return "", a.fail(err)
	}

	start := time.Now()
	reply, err := a.chat.Chat(ctx, backend.ChatRequest{
		Type:         "text",
		Text:         text,
		CharacterID:  characterID,
		Streaming:    true,
		ConnectionID: rec.SessionID,
	})
	if a.metrics != nil {
		a.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return "", a.fail(err)
	}

	voiceID := reply.VoiceID
	if voiceID == "" {
		voiceID = profile.VoiceID
	}
	if voiceID == "" {
		// A legacy-tier profile may lack a voice; try a forced refresh
		// before giving up.
		if refreshed, rerr := a.directory.Refresh(ctx, characterID); rerr == nil {
			voiceID = refreshed.VoiceID
		}
	}
	if voiceID == "" {
		return reply.Response, a.fail(fault.Newf(fault.State, "app.transcribed_text",
			"no voice known for character %d", characterID))
	}

	if err := a.synth.Start(ctx, synth.Request{
		Text:    reply.Response,
		VoiceID: voiceID,
		Speed:   a.voice.Speed,
		Pitch:   a.voice.Pitch,
		Emotion: a.voice.Emotion,
	}); err != nil {
		return reply.Response, a.fail(err)
	}
	return reply.Response, nil
}

// StopSpeaking interrupts the current synthesis and playback immediately.
func (a *Assistant) StopSpeaking() {
	a.synth.Stop()
}

// EndConversation clears the session and forgets the scanned character.
func (a *Assistant) EndConversation(ctx context.Context) {
	a.synth.Stop()
	a.sessions.Clear(ctx)

	a.mu.Lock()
	a.character = 0
	a.mu.Unlock()
}

// Close releases the assistant's owned resources.
func (a *Assistant) Close() error {
	return a.synth.Close()
}

// fail records err as the last user-visible error, forwards it to the error
// callback, and returns it unchanged for the caller to propagate.
func (a *Assistant) fail(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	a.mu.Lock()
	a.lastError = msg
	a.mu.Unlock()

	if a.callbacks.OnError != nil {
		a.callbacks.OnError(msg)
	}
	return err
}
