package ttsopenai

import "testing"

type fakeSink struct {
	played  [][]byte
	flushed bool
	closed  bool
}

func (f *fakeSink) MicChunks() <-chan []byte { return nil }
func (f *fakeSink) PlayChunk(data []byte) error {
	f.played = append(f.played, data)
	return nil
}
func (f *fakeSink) Flush() error { f.flushed = true; return nil }
func (f *fakeSink) Close() error { f.closed = true; return nil }

func TestFactoryRequiresAPIKey(t *testing.T) {
	f := NewFactory(&fakeSink{})
	_, err := f.Create([]byte(`{"type":"openai","model":"tts-1","voice":"alloy"}`))
	if err == nil {
		t.Fatal("expected error when api_key is missing")
	}
}

func TestFactoryConstructsClientBoundToSink(t *testing.T) {
	sink := &fakeSink{}
	f := NewFactory(sink)
	port, err := f.Create([]byte(`{"type":"openai","api_key":"k","model":"tts-1","voice":"alloy"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client, ok := port.(*Client)
	if !ok {
		t.Fatalf("expected *Client, got %T", port)
	}
	if client.sink != sink {
		t.Fatal("expected the factory's sink to be wired into the client")
	}
}

func TestCloseClosesSink(t *testing.T) {
	sink := &fakeSink{}
	c := New("k", "", "tts-1", "alloy", sink)
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sink.closed {
		t.Fatal("expected Close to close the sink")
	}
}

func TestInterruptFlushesSink(t *testing.T) {
	sink := &fakeSink{}
	c := New("k", "", "tts-1", "alloy", sink)
	if err := c.Interrupt(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sink.flushed {
		t.Fatal("expected Interrupt to flush the sink")
	}
}
