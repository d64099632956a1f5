package synth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/internal/observe"
)

// Client-to-server task events.
type wsTaskEvent struct {
	Event        string        `json:"event"`
	Model        string        `json:"model,omitempty"`
	Text         string        `json:"text,omitempty"`
	VoiceSetting *voiceSetting `json:"voice_setting,omitempty"`
	AudioSetting *audioSetting `json:"audio_setting,omitempty"`
}

// Server-to-client events. The same shape covers the connect handshake, task
// acknowledgements and audio chunks.
type wsServerEvent struct {
	Event   string `json:"event"`
	IsFinal bool   `json:"is_final"`
	Data    struct {
		Audio  string `json:"audio"`
		Status int    `json:"status"`
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// WSTransportConfig configures a [WSTransport].
type WSTransportConfig struct {
	// URL is the websocket synthesis endpoint (ws:// or wss://).
	URL string

	// APIKey is sent as a bearer token during the handshake.
	APIKey string

	// Model is the synthesis model identifier.
	Model string

	// SampleRate and Channels fix the requested output format.
	SampleRate int
	Channels   int

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// WSTransport streams synthesis events over a websocket using the
// task_start / task_continue / task_finish protocol. Each Stream call opens
// a fresh connection; the synthesis session is single-flight, so there is
// nothing to pool.
type WSTransport struct {
	cfg WSTransportConfig
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a [WSTransport].
func NewWSTransport(cfg WSTransportConfig) (*WSTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("synth: transport URL must not be empty")
	}
	return &WSTransport{cfg: cfg}, nil
}

// Stream implements [Transport]. The connect and task_start handshake runs
// synchronously so submission failures surface as the return error; after
// that a writer and a reader goroutine run under one errgroup until the
// server signals the final chunk.
func (t *WSTransport) Stream(ctx context.Context, req Request) (<-chan Event, <-chan error, error) {
	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	conn, _, err := websocket.Dial(ctx, t.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, nil, fault.Wrap(fault.Transport, "synth.ws_stream", err)
	}
	conn.SetReadLimit(maxEventSize)

	if err := t.handshake(ctx, conn, req); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, nil, err
	}

	events := make(chan Event)
	errs := make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.writeTask(gctx, conn, req)
	})
	g.Go(func() error {
		return t.readEvents(gctx, conn, events)
	})
	go func() {
		defer close(events)
		if err := g.Wait(); err != nil {
			errs <- err
			conn.Close(websocket.StatusInternalError, "stream aborted")
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	return events, errs, nil
}

// handshake waits for connected_success, then starts the task and waits for
// its acknowledgement.
func (t *WSTransport) handshake(ctx context.Context, conn *websocket.Conn, req Request) error {
	var connected wsServerEvent
	if err := wsjson.Read(ctx, conn, &connected); err != nil {
		return fault.Wrap(fault.Transport, "synth.ws_stream", err)
	}
	if connected.Event != "connected_success" {
		return fault.Newf(fault.Protocol, "synth.ws_stream", "unexpected handshake event %q", connected.Event)
	}

	start := wsTaskEvent{
		Event: "task_start",
		Model: t.cfg.Model,
		VoiceSetting: &voiceSetting{
			VoiceID: req.VoiceID,
			Speed:   req.Speed,
			Vol:     1,
			Pitch:   req.Pitch,
			Emotion: req.Emotion,
		},
		AudioSetting: &audioSetting{
			SampleRate: t.cfg.SampleRate,
			Bitrate:    defaultBitrate,
			Format:     "pcm",
			Channel:    t.cfg.Channels,
		},
	}
	if err := wsjson.Write(ctx, conn, start); err != nil {
		return fault.Wrap(fault.Transport, "synth.ws_stream", err)
	}

	var started wsServerEvent
	if err := wsjson.Read(ctx, conn, &started); err != nil {
		return fault.Wrap(fault.Transport, "synth.ws_stream", err)
	}
	if started.BaseResp.StatusCode != 0 {
		return fault.Newf(fault.Protocol, "synth.ws_stream",
			"task start refused: status %d: %s", started.BaseResp.StatusCode, started.BaseResp.StatusMsg)
	}
	if started.Event != "task_started" {
		return fault.Newf(fault.Protocol, "synth.ws_stream", "unexpected task event %q", started.Event)
	}
	return nil
}

// writeTask submits the utterance and closes the task. The whole text goes
// in one task_continue; the server chunks the audio on its own schedule.
func (t *WSTransport) writeTask(ctx context.Context, conn *websocket.Conn, req Request) error {
	if err := wsjson.Write(ctx, conn, wsTaskEvent{Event: "task_continue", Text: req.Text}); err != nil {
		return fault.Wrap(fault.Transport, "synth.ws_stream", err)
	}
	if err := wsjson.Write(ctx, conn, wsTaskEvent{Event: "task_finish"}); err != nil {
		return fault.Wrap(fault.Transport, "synth.ws_stream", err)
	}
	return nil
}

// readEvents forwards audio chunks until the server marks the stream final.
func (t *WSTransport) readEvents(ctx context.Context, conn *websocket.Conn, events chan<- Event) error {
	for {
		var ev wsServerEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				return nil
			}
			return fault.Wrap(fault.Transport, "synth.ws_stream", err)
		}
		if ev.BaseResp.StatusCode != 0 {
			return fault.Newf(fault.Protocol, "synth.ws_stream",
				"backend status %d: %s", ev.BaseResp.StatusCode, ev.BaseResp.StatusMsg)
		}

		if ev.Data.Audio != "" {
			status := ev.Data.Status
			if status == 0 {
				// The websocket variant flags the tail via is_final
				// instead of a status code.
				status = StatusContinuation
			}
			select {
			case events <- Event{Status: status, Audio: ev.Data.Audio}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if ev.IsFinal || ev.Event == "task_finished" {
			return nil
		}
	}
}
