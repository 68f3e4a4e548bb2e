// Package speechollama adapts a local Ollama chat model into
// ports.SpeechPort for fully offline voice sessions. Ollama serves text
// models only — it has no speech recognition or synthesis of its own — so
// this adapter requires an injected Transcriber to turn captured PCM into
// text before the model ever sees it. Silence detection (a fixed
// post-audio quiet period, mirroring the TTS Pump's fallback-timer idiom)
// stands in for the server-side voice-activity detection a realtime
// provider would normally do.
package speechollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"

	"reduck/pkg/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Transcriber turns one buffered utterance of PCM audio into text. The
// core has no built-in implementation; callers wire in whatever local ASR
// they have available (e.g. a whisper.cpp binding).
type Transcriber func(pcm []byte) (string, error)

// Config is the raw JSON shape dispatched to by {"type": "ollama"}.
type Config struct {
	Type           string `json:"type"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	SilenceTimeout int    `json:"silence_timeout_ms"`
}

// Client implements ports.SpeechPort over a local Ollama model.
type Client struct {
	client      *api.Client
	model       string
	transcriber Transcriber
	silenceWait time.Duration

	mu      sync.Mutex
	buf     []byte
	timer   *time.Timer
	history []api.Message
	tools   []api.Tool

	events chan ports.SpeechEvent
}

// New constructs a Client. silenceWait defaults to 700ms if zero.
func New(client *api.Client, model string, transcriber Transcriber, silenceWait time.Duration) *Client {
	if silenceWait <= 0 {
		silenceWait = 700 * time.Millisecond
	}
	return &Client{
		client:      client,
		model:       model,
		transcriber: transcriber,
		silenceWait: silenceWait,
		events:      make(chan ports.SpeechEvent, 64),
	}
}

// Connect seeds the chat history with the system prompt and declares the
// tool set. Ollama has no handshake of its own, so this is purely local
// bookkeeping.
func (c *Client) Connect(ctx context.Context, opts ports.SetupOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opts.SystemPrompt != "" {
		c.history = append(c.history, api.Message{Role: "system", Content: opts.SystemPrompt})
	}
	c.tools = toolsFromDeclarations(opts.Tools)
	return nil
}

// toolsFromDeclarations converts the port's generic tool declarations into
// Ollama's api.Tool shape via a JSON round trip, the same conversion
// technique the teacher's ollama client uses for its own tool list.
func toolsFromDeclarations(decls []ports.ToolDeclaration) []api.Tool {
	var tools []api.Tool
	for _, d := range decls {
		raw := map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
			},
		}
		b, _ := json.Marshal(raw)
		var t api.Tool
		if err := json.Unmarshal(b, &t); err == nil {
			tools = append(tools, t)
		}
	}
	return tools
}

// SendAudio buffers one PCM chunk and (re)arms the silence timer; when the
// timer fires without further audio, the buffered utterance is
// transcribed and run through the chat model.
func (c *Client) SendAudio(chunk []byte) error {
	if c.transcriber == nil {
		return fmt.Errorf("speechollama: no transcriber configured")
	}
	c.mu.Lock()
	c.buf = append(c.buf, chunk...)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.silenceWait, c.onSilence)
	c.mu.Unlock()
	return nil
}

func (c *Client) onSilence() {
	c.mu.Lock()
	pcm := c.buf
	c.buf = nil
	c.timer = nil
	c.mu.Unlock()

	if len(pcm) == 0 {
		return
	}

	text, err := c.transcriber(pcm)
	if err != nil || text == "" {
		return
	}
	c.events <- ports.SpeechEvent{Kind: ports.SpeechInputTranscription, Text: text}

	c.mu.Lock()
	c.history = append(c.history, api.Message{Role: "user", Content: text})
	history := append([]api.Message(nil), c.history...)
	tools := c.tools
	c.mu.Unlock()

	c.runChat(history, tools)
}

func (c *Client) runChat(history []api.Message, tools []api.Tool) {
	streamVal := true
	req := &api.ChatRequest{Model: c.model, Messages: history, Tools: tools, Stream: &streamVal}

	var assistantText string
	err := c.client.Chat(context.Background(), req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			assistantText += resp.Message.Content
			c.events <- ports.SpeechEvent{Kind: ports.SpeechOutputTranscription, Text: resp.Message.Content}
		}
		for _, tc := range resp.Message.ToolCalls {
			argsB, _ := json.Marshal(tc.Function.Arguments)
			c.events <- ports.SpeechEvent{
				Kind:     ports.SpeechToolCall,
				ToolName: tc.Function.Name,
				ToolArgs: argsB,
			}
		}
		if resp.Done {
			c.events <- ports.SpeechEvent{Kind: ports.SpeechTurnComplete}
		}
		return nil
	})
	if err != nil {
		c.events <- ports.SpeechEvent{Kind: ports.SpeechClose}
		return
	}

	c.mu.Lock()
	if assistantText != "" {
		c.history = append(c.history, api.Message{Role: "assistant", Content: assistantText})
	}
	c.mu.Unlock()
}

// SendClientContext appends out-of-band text (e.g. a TTS readback echo)
// directly to history as a user-role message; Ollama has no notion of
// client-context turns distinct from ordinary chat turns.
func (c *Client) SendClientContext(text string, turnComplete bool) error {
	_ = turnComplete
	c.mu.Lock()
	c.history = append(c.history, api.Message{Role: "user", Content: text})
	c.mu.Unlock()
	return nil
}

// RespondToolCall ignores id (Ollama's tool calls carry no call id the
// way realtime providers do) and folds the JSON-encoded payload back into
// the history via SendClientContext.
func (c *Client) RespondToolCall(id string, payload any) error {
	b, _ := json.Marshal(payload)
	return c.SendClientContext(string(b), true)
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	close(c.events)
	return nil
}

func (c *Client) Events() <-chan ports.SpeechEvent { return c.events }

// factory binds a Transcriber at construction time, the same reason
// ttsopenai's factory binds an audio sink: the dependency can't be
// expressed in the provider's own raw JSON config. main.go does not
// register this factory and there is no init()-time self-registration, so
// "ollama" is available only once a caller registers NewFactory itself.
type factory struct {
	transcriber Transcriber
}

// NewFactory returns a SpeechProviderFactory bound to transcriber, for
// ports.RegisterSpeechProvider("ollama", ...).
func NewFactory(transcriber Transcriber) ports.SpeechProviderFactory {
	return factory{transcriber: transcriber}
}

func (f factory) Create(rawConfig []byte) (ports.SpeechPort, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("speechollama: config: %w", err)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("speechollama: model is required")
	}

	var client *api.Client
	var err error
	if cfg.BaseURL != "" {
		u, parseErr := url.Parse(cfg.BaseURL)
		if parseErr != nil {
			return nil, fmt.Errorf("speechollama: invalid base_url: %w", parseErr)
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("speechollama: %w", err)
		}
	}

	silence := time.Duration(cfg.SilenceTimeout) * time.Millisecond
	return New(client, cfg.Model, f.transcriber, silence), nil
}
