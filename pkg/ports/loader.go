package ports

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// providerConfig is the common envelope every provider config blob carries:
// a type tag selecting the registered factory, plus provider-specific
// fields left raw for that factory to parse.
type providerConfig struct {
	Type string `json:"type"`
}

// NewSpeechFromConfig instantiates the configured SpeechPort, mirroring the
// teacher's llm.NewFromConfig provider-dispatch shape.
func NewSpeechFromConfig(raw []byte) (SpeechPort, error) {
	if raw == nil {
		return nil, fmt.Errorf("ports: missing speech provider config")
	}
	var pc providerConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("ports: parse speech provider config: %w", err)
	}
	factory, ok := GetSpeechProviderFactory(pc.Type)
	if !ok {
		return nil, fmt.Errorf("ports: unknown speech provider %q", pc.Type)
	}
	return factory.Create(raw)
}

// NewTTSFromConfig instantiates the configured TTSPort.
func NewTTSFromConfig(raw []byte) (TTSPort, error) {
	if raw == nil {
		return nil, fmt.Errorf("ports: missing TTS provider config")
	}
	var pc providerConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("ports: parse TTS provider config: %w", err)
	}
	factory, ok := GetTTSProviderFactory(pc.Type)
	if !ok {
		return nil, fmt.Errorf("ports: unknown TTS provider %q", pc.Type)
	}
	return factory.Create(raw)
}
