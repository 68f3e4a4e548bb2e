package speechgenai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"reduck/pkg/ports"
)

var upgrader = websocket.Upgrader{}

func TestConnectSendsSetupAndReceivesToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, setup, err := conn.ReadMessage()
		if err != nil || !strings.Contains(string(setup), `"setup"`) {
			t.Errorf("expected setup envelope, got %s (err=%v)", setup, err)
			return
		}

		toolCall := `{"toolCall":{"functionCalls":[{"id":"c1","name":"stop","args":{}}]}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(toolCall)); err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New("test-key", "gemini-2.0-flash-live-001", "Kore")
	c.connectURLOverride(wsURL)
	if err := c.Connect(context.Background(), ports.SetupOptions{SystemPrompt: "be terse"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	select {
	case ev := <-c.Events():
		if ev.Kind != ports.SpeechToolCall || ev.ToolName != "stop" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tool call event")
	}
}

func TestFactoryRequiresAPIKey(t *testing.T) {
	f := factory{}
	_, err := f.Create([]byte(`{"type":"genai","model":"gemini-2.0-flash-live"}`))
	if err == nil {
		t.Fatal("expected error when api_key is missing")
	}
}

func TestFactoryConstructsClient(t *testing.T) {
	f := factory{}
	p, err := f.Create([]byte(`{"type":"genai","api_key":"k","model":"gemini-2.0-flash-live","voice":"Kore"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil port")
	}
}
