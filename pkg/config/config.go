// Package config loads and hot-reloads Reduck's application and system
// configuration files.
package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the global application configuration structure. It maps
// directly to config.json and holds the business-level settings: which
// speech and TTS providers to bind, and the default converse parameters.
type Config struct {
	// Speech holds the speech-relay provider configuration in raw JSON
	// (selects one of the registered speech provider factories).
	Speech jsoniter.RawMessage `json:"speech"`
	// TTS holds the TTS-provider configuration in raw JSON.
	TTS jsoniter.RawMessage `json:"tts"`
	// Notify holds optional notifier configuration (e.g. Telegram approval
	// mirroring), in raw JSON. May be absent.
	Notify jsoniter.RawMessage `json:"notify,omitempty"`
	// DefaultModel is the model name passed to the agent bridge when the
	// caller does not specify one.
	DefaultModel string `json:"default_model"`
	// DefaultSystemPrompt is the system prompt injected into every converse
	// call unless overridden by the caller.
	DefaultSystemPrompt string `json:"default_system_prompt"`
	// DefaultPermissionMode is "plan" or "acceptEdits".
	DefaultPermissionMode string `json:"default_permission_mode"`
}

// DeepCopy creates a copy of Config, cloning the raw-message fields so a
// reload cannot mutate a config snapshot already handed to a running voice
// session.
func (c *Config) DeepCopy() *Config {
	newCfg := *c
	newCfg.Speech = append(jsoniter.RawMessage(nil), c.Speech...)
	newCfg.TTS = append(jsoniter.RawMessage(nil), c.TTS...)
	newCfg.Notify = append(jsoniter.RawMessage(nil), c.Notify...)
	return &newCfg
}

// Validate ensures the configuration is internally consistent before the
// system proceeds to initialization. A chat-only deployment (no Voice
// Relay) omits both 'speech' and 'tts' entirely; what's invalid is
// specifying only one of the pair, since a speech provider with no TTS
// port (or vice versa) can't form a working voice session.
func (c *Config) Validate() error {
	if (len(c.Speech) == 0) != (len(c.TTS) == 0) {
		return fmt.Errorf("'speech' and 'tts' configuration must both be present or both be absent")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters, usually stored in
// system.json, controlling performance and technical behavior independent
// of any single conversation.
type SystemConfig struct {
	// Host is the bind address for the Stream Relay HTTP server.
	Host string `json:"host"`
	// Port is the bind port for the Stream Relay HTTP server.
	Port int `json:"port"`
	// NoBrowser mirrors the --no-browser CLI flag. No component reads it:
	// the core never opens a browser tab and prints no browser hint at
	// startup.
	NoBrowser bool `json:"no_browser"`
	// AgentBinary is the path to the agent CLI executable. Empty means no
	// agent is configured: no default name is looked up on PATH, and every
	// converse call fails with a subprocess spawn failure.
	AgentBinary string `json:"agent_binary"`
	// AgentConfigDir overrides the agent's own config directory; empty means
	// the agent's default.
	AgentConfigDir string `json:"agent_config_dir"`
	// ConversationLogRoot is the directory under which
	// projects/<slug>/<uuid>.log conversation logs are read.
	ConversationLogRoot string `json:"conversation_log_root"`
	// SentenceMinChars is the TTS sentence-buffer minimum character
	// threshold. It is not passed to the TTS Pump, which always uses its
	// fixed tts.MinChars.
	SentenceMinChars int `json:"sentence_min_chars"`
	// SentenceMaxWaitMs is the TTS sentence-buffer fallback timer. It is not
	// passed to the TTS Pump, which always uses its fixed tts.MaxWait.
	SentenceMaxWaitMs int `json:"sentence_max_wait_ms"`
	// StopWords is the Voice Relay's stop-word set for the keyword listener.
	// AcceptWords and RejectWords are not read by any component: the
	// approval hold listens for a fixed accept/reject set.
	StopWords   []string `json:"stop_words"`
	AcceptWords []string `json:"accept_words"`
	RejectWords []string `json:"reject_words"`
	// MaxRetries / RetryDelayMs are not read by any component; no provider
	// adapter retries a failed call.
	MaxRetries   int `json:"max_retries"`
	RetryDelayMs int `json:"retry_delay_ms"`
	// DebugChunks is not read by any component; no raw stream events are
	// saved to disk.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output: debug, info, warn,
	// error. Default "info".
	LogLevel string `json:"log_level"`
}

// DeepCopy creates a full copy of SystemConfig.
func (s *SystemConfig) DeepCopy() *SystemConfig {
	newSys := *s
	newSys.StopWords = append([]string(nil), s.StopWords...)
	newSys.AcceptWords = append([]string(nil), s.AcceptWords...)
	newSys.RejectWords = append([]string(nil), s.RejectWords...)
	return &newSys
}

// DefaultSystemConfig returns a SystemConfig initialized with hardcoded safe
// defaults, used whenever system.json is absent or partially specified.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		Host:                "127.0.0.1",
		Port:                8787,
		AgentBinary:         "",
		ConversationLogRoot: "data/projects",
		SentenceMinChars:    80,
		SentenceMaxWaitMs:   1000,
		StopWords:           []string{"stop", "cancel", "nevermind"},
		AcceptWords:         []string{"accept", "yes", "go ahead"},
		RejectWords:         []string{"reject", "no", "cancel that"},
		MaxRetries:          3,
		RetryDelayMs:        500,
		LogLevel:            "info",
	}
}

// Load reads and parses config.json and system.json, returning both objects.
func Load() (*Config, *SystemConfig, error) {
	return LoadFrom("config.json", "system.json")
}

// LoadFrom is Load with explicit file paths, used by tests and by callers
// that override the default file locations via CLI flags.
func LoadFrom(appPath, sysPath string) (*Config, *SystemConfig, error) {
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file %q not found, please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig(sysPath)

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returning defaults
// (overlaid with whatever the file does specify) if the file is absent or
// partially malformed.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
