package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"both absent (chat-only)", Config{}, false},
		{"both present", Config{Speech: []byte(`{"type":"ws"}`), TTS: []byte(`{"type":"openai"}`)}, false},
		{"speech only", Config{Speech: []byte(`{"type":"ws"}`)}, true},
		{"tts only", Config{TTS: []byte(`{"type":"openai"}`)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromChatOnly(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "config.json")
	sysPath := filepath.Join(dir, "system.json")

	body := `{"default_model":"claude","default_system_prompt":"be helpful","default_permission_mode":"plan"}`
	if err := os.WriteFile(appPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, sysCfg, err := LoadFrom(appPath, sysPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if len(cfg.Speech) != 0 || len(cfg.TTS) != 0 {
		t.Fatalf("expected no speech/tts config, got speech=%q tts=%q", cfg.Speech, cfg.TTS)
	}
	if sysCfg.Host == "" {
		t.Fatalf("expected default system config to be applied")
	}
}

func TestLoadFromRejectsLopsidedVoiceConfig(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "config.json")
	sysPath := filepath.Join(dir, "system.json")

	body := `{"speech":{"type":"ws"}}`
	if err := os.WriteFile(appPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := LoadFrom(appPath, sysPath); err == nil {
		t.Fatalf("expected Validate to reject speech-without-tts config")
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := LoadFrom(filepath.Join(dir, "nope.json"), filepath.Join(dir, "system.json")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
