// Package speechgenai adapts Google's Gemini Live API to ports.SpeechPort.
// Live is a plain JSON-over-WebSocket protocol (BidiGenerateContent), not a
// convenient high-level call — google.golang.org/genai has no Live surface
// at all, only ordinary chat completion. This adapter dials the WebSocket
// directly with gorilla/websocket, the same transport the mock/dev
// speechws adapter uses.
package speechgenai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"reduck/pkg/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const liveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

const keepaliveInterval = 20 * time.Second

// Config is the raw JSON shape dispatched to by pkg/ports' loader under
// {"type": "genai", ...}.
type Config struct {
	Type    string `json:"type"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Voice   string `json:"voice"`
	Persona string `json:"system_prompt,omitempty"`
}

// --- outgoing wire shapes ---

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool       `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Parameters  jsoniter.RawMessage `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Response any    `json:"response"`
}

// --- incoming wire shapes ---

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	ToolCall      *toolCallMsg   `json:"toolCall,omitempty"`
	GoAway        *struct{}      `json:"goAway,omitempty"`
	Error         *geminiError   `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// safeConn serializes concurrent writers onto one *websocket.Conn, the same
// wrapper the teacher's web channel uses for its browser-facing sockets.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) WriteJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteJSON(v)
}

func (sc *safeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// Client implements ports.SpeechPort against a Gemini Live session.
type Client struct {
	apiKey string
	model  string
	voice  string

	mu   sync.Mutex
	conn *safeConn

	endpoint string // defaults to liveEndpoint; overridable in tests

	events chan ports.SpeechEvent
	done   chan struct{}
}

// New constructs a disconnected Client; Connect dials the Live session.
func New(apiKey, model, voice string) *Client {
	return &Client{
		apiKey:   apiKey,
		model:    model,
		voice:    voice,
		endpoint: liveEndpoint,
		events:   make(chan ports.SpeechEvent, 64),
		done:     make(chan struct{}),
	}
}

// connectURLOverride points Connect at a test WebSocket server instead of
// the real Live endpoint.
func (c *Client) connectURLOverride(wsURL string) {
	c.endpoint = wsURL
}

// Connect dials the Live endpoint, sends the setup message declaring the
// core's tools and system prompt, and starts the receive and keepalive
// loops that translate server messages into ports.SpeechEvent (§6.1).
func (c *Client) Connect(ctx context.Context, opts ports.SetupOptions) error {
	dialURL := c.endpoint + "?key=" + url.QueryEscape(c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("speechgenai: dial: %w", err)
	}
	c.mu.Lock()
	c.conn = &safeConn{Conn: conn}
	c.mu.Unlock()

	setup := setupMessage{Setup: setupConfig{
		Model: "models/" + c.model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}}
	if opts.EnableInputTranscription {
		setup.Setup.InputAudioTranscription = &struct{}{}
	}
	if opts.EnableOutputTranscription {
		setup.Setup.OutputAudioTranscription = &struct{}{}
	}
	if c.voice != "" {
		setup.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.voice}},
		}
	}
	if opts.SystemPrompt != "" {
		setup.Setup.SystemInstruction = &systemInstruction{Parts: []part{{Text: opts.SystemPrompt}}}
	}
	if len(opts.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			})
		}
		setup.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if err := c.conn.WriteJSON(setup); err != nil {
		return fmt.Errorf("speechgenai: setup: %w", err)
	}

	go c.receiveLoop()
	go c.keepaliveLoop()
	return nil
}

func (c *Client) receiveLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.events <- ports.SpeechEvent{Kind: ports.SpeechClose}:
			default:
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("speechgenai: malformed server message", "error", err)
			continue
		}

		switch {
		case msg.Error != nil:
			slog.Error("speechgenai: server error", "code", msg.Error.Code, "message", msg.Error.Message)
			c.events <- ports.SpeechEvent{Kind: ports.SpeechClose}
			return
		case msg.GoAway != nil:
			c.events <- ports.SpeechEvent{Kind: ports.SpeechGoAway}
		case msg.ServerContent != nil:
			c.handleServerContent(msg.ServerContent)
		case msg.ToolCall != nil:
			c.handleToolCall(msg.ToolCall)
		}
	}
}

func (c *Client) handleServerContent(sc *serverContent) {
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.events <- ports.SpeechEvent{Kind: ports.SpeechInputTranscription, Text: sc.InputTranscription.Text}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.events <- ports.SpeechEvent{Kind: ports.SpeechOutputTranscription, Text: sc.OutputTranscription.Text}
	}
	if sc.Interrupted {
		c.events <- ports.SpeechEvent{Kind: ports.SpeechInterrupted}
	}
	if sc.TurnComplete {
		c.events <- ports.SpeechEvent{Kind: ports.SpeechTurnComplete}
	}
}

func (c *Client) handleToolCall(tc *toolCallMsg) {
	for _, fc := range tc.FunctionCalls {
		argsJSON, err := json.Marshal(fc.Args)
		if err != nil {
			continue
		}
		c.events <- ports.SpeechEvent{
			Kind:       ports.SpeechToolCall,
			ToolCallID: fc.ID,
			ToolName:   fc.Name,
			ToolArgs:   argsJSON,
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Live connection alive
// across the silences a voice conversation naturally has.
func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// SendAudio forwards one realtime PCM chunk as a base64 media chunk.
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("speechgenai: not connected")
	}
	msg := realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: []mediaChunk{
		{MIMEType: "audio/pcm;rate=16000", Data: base64.StdEncoding.EncodeToString(chunk)},
	}}}
	return conn.WriteJSON(msg)
}

// SendClientContext injects out-of-band text context as a client turn.
func (c *Client) SendClientContext(text string, turnComplete bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("speechgenai: not connected")
	}
	msg := clientContentMessage{ClientContent: clientContent{
		Turns:        []contentTurn{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: turnComplete,
	}}
	return conn.WriteJSON(msg)
}

// RespondToolCall answers a declared tool call by id.
func (c *Client) RespondToolCall(id string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("speechgenai: not connected")
	}
	msg := toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: []functionResponse{
		{ID: id, Response: payload},
	}}}
	return conn.WriteJSON(msg)
}

func (c *Client) Close() error {
	close(c.done)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) Events() <-chan ports.SpeechEvent { return c.events }

// factory registers this adapter under {"type": "genai"} (pkg/ports loader).
type factory struct{}

func (factory) Create(rawConfig []byte) (ports.SpeechPort, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("speechgenai: config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("speechgenai: api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-live-001"
	}
	return New(cfg.APIKey, cfg.Model, cfg.Voice), nil
}

func init() {
	ports.RegisterSpeechProvider("genai", factory{})
}
