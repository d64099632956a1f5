package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/voxtale/voxtale/internal/fault"
)

// ---- Wire types ----

// sessionNewRequest is the body of POST /api/session/new.
type sessionNewRequest struct {
	CharacterID int `json:"character_id"`
}

// sessionNewResponse is the reply to POST /api/session/new.
type sessionNewResponse struct {
	Success      bool   `json:"success"`
	ConnectionID string `json:"connection_id"`
	Error        string `json:"error,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	CharacterID  int    `json:"character_id"`
	Streaming    bool   `json:"streaming"`
	ConnectionID string `json:"connection_id"`
}

// ChatReply is the decoded reply to POST /api/chat.
type ChatReply struct {
	Success     bool   `json:"success"`
	Response    string `json:"response"`
	CharacterID int    `json:"character_id,omitempty"`
	VoiceID     string `json:"voice_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// characterEnvelope is the reply to GET /api/character/{id}.
type characterEnvelope struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Data    CharacterData `json:"data"`
}

// CharacterData is the profile payload of the current character API.
type CharacterData struct {
	CharacterID int    `json:"character_id"`
	Name        string `json:"name"`
	VoiceID     string `json:"voice_id"`
	Available   bool   `json:"available"`
}

// legacyCharacterRequest is the body of the legacy POST /api/character.
type legacyCharacterRequest struct {
	CharacterID int `json:"character_id"`
}

// LegacyCharacterReply is the narrower profile returned by the legacy
// backend. It never carries a voice id.
type LegacyCharacterReply struct {
	Success       bool   `json:"success"`
	CharacterID   int    `json:"character_id"`
	CharacterName string `json:"character_name"`
	Error         string `json:"error,omitempty"`
}

// pingResponse is the reply to GET /api/ping.
type pingResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// clearHistoryResponse is the reply to POST /api/history/clear.
type clearHistoryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ---- Endpoint bindings ----

// NewSession asks the backend to open a conversation session bound to
// characterID and returns the assigned connection id.
func (c *Client) NewSession(ctx context.Context, characterID int) (string, error) {
	const op = "backend.new_session"
	var resp sessionNewResponse
	if err := c.CallJSON(ctx, http.MethodPost, "/api/session/new",
		sessionNewRequest{CharacterID: characterID}, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.ConnectionID == "" {
		return "", fault.Newf(fault.Protocol, op, "backend refused session: %s", orUnknown(resp.Error))
	}
	return resp.ConnectionID, nil
}

// DeleteSession tears down a backend session. A missing session on the
// backend side is not an error — the call is best-effort cleanup.
func (c *Client) DeleteSession(ctx context.Context, sessionID string, characterID int) error {
	path := fmt.Sprintf("/api/session/%s?character_id=%d", url.PathEscape(sessionID), characterID)
	_, status, err := c.Call(ctx, http.MethodDelete, path, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	return nil
}

// Chat sends a user utterance and returns the backend reply. The reply may
// carry the voice id to use for synthesis.
//
// A success=false reply (including the backend's duplicate-message
// rejection) is surfaced as a [fault.Protocol] error.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	const op = "backend.chat"
	if req.Type == "" {
		req.Type = "text"
	}
	var reply ChatReply
	if err := c.CallJSON(ctx, http.MethodPost, "/api/chat", req, &reply); err != nil {
		return ChatReply{}, err
	}
	if !reply.Success {
		return ChatReply{}, fault.Newf(fault.Protocol, op, "chat rejected: %s", orUnknown(reply.Error))
	}
	return reply, nil
}

// Character fetches a profile from the current character API.
func (c *Client) Character(ctx context.Context, characterID int) (CharacterData, error) {
	const op = "backend.character"
	var env characterEnvelope
	path := fmt.Sprintf("/api/character/%d", characterID)
	if err := c.CallJSON(ctx, http.MethodGet, path, nil, &env); err != nil {
		return CharacterData{}, err
	}
	if !env.Success {
		return CharacterData{}, fault.Newf(fault.Protocol, op, "character %d not resolvable: %s",
			characterID, orUnknown(env.Message))
	}
	return env.Data, nil
}

// LegacyCharacter fetches a profile from the legacy character API. The
// returned profile has no voice id.
func (c *Client) LegacyCharacter(ctx context.Context, characterID int) (LegacyCharacterReply, error) {
	const op = "backend.legacy_character"
	var reply LegacyCharacterReply
	if err := c.CallJSON(ctx, http.MethodPost, "/api/character",
		legacyCharacterRequest{CharacterID: characterID}, &reply); err != nil {
		return LegacyCharacterReply{}, err
	}
	if !reply.Success {
		return LegacyCharacterReply{}, fault.Newf(fault.Protocol, op, "character %d not resolvable: %s",
			characterID, orUnknown(reply.Error))
	}
	return reply, nil
}

// Ping probes backend connectivity.
func (c *Client) Ping(ctx context.Context) error {
	var resp pingResponse
	if err := c.CallJSON(ctx, http.MethodGet, "/api/ping", nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fault.New(fault.Protocol, "backend.ping", "ping returned success=false")
	}
	return nil
}

// ClearHistory asks the backend to drop the chat history for sessionID so
// backend state follows the local session lifecycle. Best-effort.
func (c *Client) ClearHistory(ctx context.Context, sessionID string) error {
	path := "/api/history/clear"
	if sessionID != "" {
		path += "?connection_id=" + url.QueryEscape(sessionID)
	}
	var resp clearHistoryResponse
	if err := c.CallJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fault.Newf(fault.Protocol, "backend.clear_history", "clear rejected: %s", orUnknown(resp.Error))
	}
	return nil
}

// orUnknown substitutes a placeholder for empty backend error strings.
func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
