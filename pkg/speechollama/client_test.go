package speechollama

import (
	"testing"
	"time"

	"reduck/pkg/ports"
)

func TestSendAudioRequiresTranscriber(t *testing.T) {
	c := New(nil, "llama3.2", nil, 0)
	if err := c.SendAudio([]byte("pcm")); err == nil {
		t.Fatal("expected error without a configured transcriber")
	}
}

func TestSendAudioBuffersAndArmsSilenceTimer(t *testing.T) {
	called := make(chan []byte, 1)
	transcriber := func(pcm []byte) (string, error) {
		called <- pcm
		return "", nil // no client to hit; just verify buffering/timer wiring
	}
	c := New(nil, "llama3.2", transcriber, 10*time.Millisecond)

	if err := c.SendAudio([]byte("he")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.SendAudio([]byte("llo")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-called:
		if string(got) != "hello" {
			t.Fatalf("expected buffered utterance 'hello', got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for silence-triggered transcription")
	}
}

func TestSendClientContextAppendsHistory(t *testing.T) {
	c := New(nil, "llama3.2", nil, 0)
	if err := c.SendClientContext("hello", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.history) != 1 || c.history[0].Content != "hello" {
		t.Fatalf("expected history to record the context message, got %+v", c.history)
	}
}

func TestCloseClosesEventChannel(t *testing.T) {
	c := New(nil, "llama3.2", nil, 0)
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok := <-c.Events()
	if ok {
		t.Fatal("expected events channel to be closed")
	}
}

var _ ports.SpeechPort = (*Client)(nil)
