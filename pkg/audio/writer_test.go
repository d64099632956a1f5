package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestWriterEngineWritesPCM(t *testing.T) {
	var buf bytes.Buffer
	e := NewWriterEngine(&buf, false)
	defer e.Close()

	frame := Frame{Data: []byte{1, 0, 2, 0}, SampleRate: 32000, Channels: 1}
	if err := e.Play(frame); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), frame.Data) {
		t.Errorf("written = %v, want %v", buf.Bytes(), frame.Data)
	}
}

func TestWriterEngineRejectsInvalidFrame(t *testing.T) {
	e := NewWriterEngine(&bytes.Buffer{}, false)
	defer e.Close()

	if err := e.Play(Frame{Data: []byte{1}, SampleRate: 32000, Channels: 1}); err == nil {
		t.Fatal("Play accepted an odd-length frame")
	}
}

func TestWriterEngineSilenceAbortsPacedPlay(t *testing.T) {
	e := NewWriterEngine(&bytes.Buffer{}, true)
	defer e.Close()

	// A full second of audio; Silence has to cut it short.
	frame := Frame{Data: make([]byte, 64000), SampleRate: 32000, Channels: 1}

	done := make(chan error, 1)
	go func() { done <- e.Play(frame) }()

	time.Sleep(10 * time.Millisecond)
	e.Silence()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("aborted Play: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Silence did not abort the in-flight Play")
	}

	// The engine stays usable after Silence.
	short := Frame{Data: []byte{1, 0}, SampleRate: 32000, Channels: 1}
	if err := e.Play(short); err != nil {
		t.Fatalf("Play after Silence: %v", err)
	}
}

func TestWriterEngineClosedPlayFails(t *testing.T) {
	e := NewWriterEngine(&bytes.Buffer{}, false)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := e.Play(Frame{Data: []byte{1, 0}, SampleRate: 32000, Channels: 1})
	if err == nil {
		t.Fatal("Play succeeded on a closed engine")
	}
}

func TestWriterEnginePlaySurfacesWriteError(t *testing.T) {
	e := NewWriterEngine(failWriter{}, false)
	defer e.Close()

	err := e.Play(Frame{Data: []byte{1, 0}, SampleRate: 32000, Channels: 1})
	if err == nil || !errors.Is(err, errSinkBroken) {
		t.Fatalf("err = %v, want wrapped sink error", err)
	}
}

var errSinkBroken = errors.New("sink broken")

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errSinkBroken }
