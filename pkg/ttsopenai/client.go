// Package ttsopenai adapts OpenAI's text-to-speech endpoint to
// ports.TTSPort. Unlike Gemini Live, OpenAI's speech endpoint is a plain
// request/response call rather than a duplex streaming session, so this
// adapter synthesizes synchronously per Send and emits the turn-complete
// event itself once playback has been handed to the audio sink.
package ttsopenai

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"reduck/pkg/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the raw JSON shape dispatched to by {"type": "openai"}.
type Config struct {
	Type    string `json:"type"`
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
	Voice   string `json:"voice"`
}

// Client implements ports.TTSPort over OpenAI's audio.speech endpoint,
// playing the synthesized audio through a bound ports.AudioIOPort sink.
type Client struct {
	client openai.Client
	model  string
	voice  string
	sink   ports.AudioIOPort

	events chan ports.TTSEvent
}

// New constructs a Client bound to an already-open audio sink.
func New(apiKey, baseURL, model, voice string, sink ports.AudioIOPort) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		voice:  voice,
		sink:   sink,
		events: make(chan ports.TTSEvent, 16),
	}
}

// Send synthesizes text to speech and plays it through the bound sink.
// turnComplete is accepted for interface symmetry with the realtime
// providers; every OpenAI Send is already a complete, non-streamed turn.
func (c *Client) Send(ctx context.Context, text string, turnComplete bool) error {
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: openai.SpeechModel(c.model),
		Voice: openai.AudioSpeechNewParamsVoice(c.voice),
		Input: text,
	})
	if err != nil {
		return fmt.Errorf("ttsopenai: synthesize: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ttsopenai: read audio: %w", err)
	}

	if err := c.sink.PlayChunk(audio); err != nil {
		return fmt.Errorf("ttsopenai: play: %w", err)
	}

	c.events <- ports.TTSEvent{Kind: ports.TTSTurnComplete}
	return nil
}

// Interrupt flushes in-flight playback without tearing down the sink.
func (c *Client) Interrupt() error {
	if err := c.sink.Flush(); err != nil {
		slog.Error("ttsopenai: flush failed", "error", err)
		return err
	}
	return nil
}

// Close tears down the audio sink. Terminal.
func (c *Client) Close() error {
	close(c.events)
	return c.sink.Close()
}

func (c *Client) Events() <-chan ports.TTSEvent { return c.events }

// factory binds a ready audio sink at construction time, since unlike the
// speech-side registry entries a TTS sink cannot be built from the
// provider's own raw JSON config alone. main.go builds the sink once and
// registers this factory with it before loading config.json's tts section;
// there is no init()-time self-registration for this provider.
type factory struct {
	sink ports.AudioIOPort
}

// NewFactory returns a TTSProviderFactory bound to sink, for
// ports.RegisterTTSProvider("openai", ...).
func NewFactory(sink ports.AudioIOPort) ports.TTSProviderFactory {
	return factory{sink: sink}
}

func (f factory) Create(rawConfig []byte) (ports.TTSPort, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("ttsopenai: config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ttsopenai: api_key is required")
	}
	return New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Voice, f.sink), nil
}
