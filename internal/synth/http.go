package synth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/internal/observe"
)

const (
	// maxEventSize bounds one push event line. Hex encoding doubles the
	// PCM payload, so multi-second chunks run into megabytes.
	maxEventSize = 8 << 20

	defaultBitrate = 128000
)

// Wire shapes of the streaming synthesis API.
type synthesisRequest struct {
	Model        string       `json:"model"`
	Text         string       `json:"text"`
	Stream       bool         `json:"stream"`
	VoiceSetting voiceSetting `json:"voice_setting"`
	AudioSetting audioSetting `json:"audio_setting"`
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
	Emotion string  `json:"emotion,omitempty"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type pushEvent struct {
	Data struct {
		Audio  string `json:"audio"`
		Status int    `json:"status"`
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// HTTPTransportConfig configures an [HTTPTransport].
type HTTPTransportConfig struct {
	// URL is the synthesis endpoint.
	URL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Model is the synthesis model identifier.
	Model string

	// SampleRate and Channels fix the requested output format.
	SampleRate int
	Channels   int

	// Client is the HTTP client used for the streaming request. Defaults
	// to a client without an overall timeout: the response body stays open
	// for the duration of the stream, so cancellation runs through the
	// request context instead.
	Client *http.Client

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// HTTPTransport streams synthesis events over a chunked HTTP response framed
// as server-sent "data:" lines.
type HTTPTransport struct {
	cfg    HTTPTransportConfig
	client *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an [HTTPTransport].
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("synth: transport URL must not be empty")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{cfg: cfg, client: client}, nil
}

// Stream implements [Transport].
func (t *HTTPTransport) Stream(ctx context.Context, req Request) (<-chan Event, <-chan error, error) {
	payload, err := json.Marshal(synthesisRequest{
		Model:  t.cfg.Model,
		Text:   req.Text,
		Stream: true,
		VoiceSetting: voiceSetting{
			VoiceID: req.VoiceID,
			Speed:   req.Speed,
			Vol:     1,
			Pitch:   req.Pitch,
			Emotion: req.Emotion,
		},
		AudioSetting: audioSetting{
			SampleRate: t.cfg.SampleRate,
			Bitrate:    defaultBitrate,
			Format:     "pcm",
			Channel:    t.cfg.Channels,
		},
	})
	if err != nil {
		return nil, nil, fault.Wrap(fault.Protocol, "synth.stream", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fault.Wrap(fault.Transport, "synth.stream", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, nil, fault.Wrap(fault.Transport, "synth.stream", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, nil, fault.Newf(fault.Protocol, "synth.stream", "unexpected status %d", resp.StatusCode)
	}

	events := make(chan Event)
	errs := make(chan error, 1)
	go t.readEvents(ctx, resp.Body, events, errs)
	return events, errs, nil
}

// readEvents parses push events off the response body. Malformed events are
// skipped; a non-zero base_resp status code fails the whole stream.
func (t *HTTPTransport) readEvents(ctx context.Context, body io.ReadCloser, events chan<- Event, errs chan<- error) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		raw, ok := strings.CutPrefix(line, "data:")
		if !ok {
			t.skip(ctx, "malformed")
			continue
		}

		var ev pushEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ev); err != nil {
			t.skip(ctx, "malformed")
			continue
		}
		if ev.BaseResp.StatusCode != 0 {
			errs <- fault.Newf(fault.Protocol, "synth.stream",
				"backend status %d: %s", ev.BaseResp.StatusCode, ev.BaseResp.StatusMsg)
			return
		}
		if ev.Data.Audio == "" {
			continue // keep-alive or metadata event
		}

		select {
		case events <- Event{Status: ev.Data.Status, Audio: ev.Data.Audio}:
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			errs <- ctx.Err()
			return
		}
		errs <- fault.Wrap(fault.Transport, "synth.stream", err)
	}
}

func (t *HTTPTransport) skip(ctx context.Context, reason string) {
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordSkippedEvent(ctx, reason)
	}
}
