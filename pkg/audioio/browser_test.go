package audioio

import (
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestMicChunksDeliversBinaryFrames(t *testing.T) {
	bridge := New()
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-bridge.Ready():
	case <-time.After(time.Second):
		t.Fatal("bridge never became ready")
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("pcm-chunk")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-bridge.MicChunks():
		if string(got) != "pcm-chunk" {
			t.Fatalf("unexpected mic chunk: %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mic chunk")
	}
}

func TestPlayChunkSendsFrameToBrowser(t *testing.T) {
	bridge := New()
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-bridge.Ready():
	case <-time.After(time.Second):
		t.Fatal("bridge never became ready")
	}

	payload := []byte(base64.StdEncoding.EncodeToString([]byte("speaker-pcm")))
	if err := bridge.PlayChunk(payload); err != nil {
		t.Fatalf("play chunk: %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"type":"play"`) {
		t.Fatalf("expected play frame, got %s", data)
	}
}

func TestFlushWithoutConnectionIsNoop(t *testing.T) {
	bridge := New()
	if err := bridge.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCloseClosesMicChannel(t *testing.T) {
	bridge := New()
	if err := bridge.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok := <-bridge.MicChunks()
	if ok {
		t.Fatal("expected mic channel to be closed")
	}
}
