// Package speechws implements a mock/dev ports.SpeechPort over a plain
// WebSocket connection, for exercising the Voice Relay without a cloud
// speech provider. Binary frames carry mic audio and playback audio; text
// frames carry a small JSON envelope for transcriptions, tool calls, tool
// responses, and lifecycle events.
package speechws

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"reduck/pkg/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// safeConn serializes concurrent writers onto one *websocket.Conn, the same
// wrapper the teacher's web channel uses for its browser-facing sockets.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// envelope is the text-frame wire shape for every non-audio event in both
// directions.
type envelope struct {
	Type       string              `json:"type"`
	Text       string              `json:"text,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolName   string              `json:"tool_name,omitempty"`
	ToolArgs   jsoniter.RawMessage `json:"tool_args,omitempty"`
	Payload    any                 `json:"payload,omitempty"`
	Expected   bool                `json:"expected,omitempty"`
}

// Client implements ports.SpeechPort by dialing a websocket endpoint
// exposing the envelope above.
type Client struct {
	url  string
	conn *safeConn

	events chan ports.SpeechEvent
}

// New constructs a disconnected Client bound to url.
func New(url string) *Client {
	return &Client{url: url, events: make(chan ports.SpeechEvent, 64)}
}

// Connect dials url and sends the setup envelope declaring tools and the
// system prompt.
func (c *Client) Connect(ctx context.Context, opts ports.SetupOptions) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("speechws: dial: %w", err)
	}
	c.conn = &safeConn{Conn: conn}

	setup := map[string]any{
		"type":          "setup",
		"system_prompt": opts.SystemPrompt,
		"tools":         opts.Tools,
	}
	setupB, _ := json.Marshal(setup)
	if err := c.conn.WriteMessage(websocket.TextMessage, setupB); err != nil {
		return fmt.Errorf("speechws: setup: %w", err)
	}

	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.events <- ports.SpeechEvent{Kind: ports.SpeechClose}
			return
		}
		if msgType != websocket.TextMessage {
			continue // binary (playback audio) frames from the server are ignored
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case "input_transcription":
			c.events <- ports.SpeechEvent{Kind: ports.SpeechInputTranscription, Text: env.Text}
		case "output_transcription":
			c.events <- ports.SpeechEvent{Kind: ports.SpeechOutputTranscription, Text: env.Text}
		case "tool_call":
			c.events <- ports.SpeechEvent{
				Kind:       ports.SpeechToolCall,
				ToolCallID: env.ToolCallID,
				ToolName:   env.ToolName,
				ToolArgs:   env.ToolArgs,
			}
		case "turn_complete":
			c.events <- ports.SpeechEvent{Kind: ports.SpeechTurnComplete}
		case "interrupted":
			c.events <- ports.SpeechEvent{Kind: ports.SpeechInterrupted}
		case "go_away":
			c.events <- ports.SpeechEvent{Kind: ports.SpeechGoAway}
		case "close":
			c.events <- ports.SpeechEvent{Kind: ports.SpeechClose, Expected: env.Expected}
			return
		}
	}
}

// SendAudio forwards one raw PCM chunk as a binary frame.
func (c *Client) SendAudio(chunk []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// SendClientContext sends an out-of-band text turn (e.g. TTS readback) as
// a context envelope.
func (c *Client) SendClientContext(text string, turnComplete bool) error {
	b, _ := json.Marshal(envelope{Type: "client_context", Text: text})
	_ = turnComplete // the dev transport always treats a context send as a complete turn
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// RespondToolCall answers a tool call by id.
func (c *Client) RespondToolCall(id string, payload any) error {
	b, _ := json.Marshal(envelope{Type: "tool_response", ToolCallID: id, Payload: payload})
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Events() <-chan ports.SpeechEvent { return c.events }

// factoryConfig is the raw JSON shape dispatched to by {"type": "ws"}.
type factoryConfig struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type factory struct{}

func (factory) Create(rawConfig []byte) (ports.SpeechPort, error) {
	var cfg factoryConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("speechws: config: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("speechws: url is required")
	}
	return New(cfg.URL), nil
}

func init() {
	ports.RegisterSpeechProvider("ws", factory{})
}
