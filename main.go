// Command reduck is the composition root: it loads configuration, wires the
// Conversation Store, Agent Bridge, Stream Relay, and (when a speech
// provider is configured) one in-process Voice Relay and TTS Pump, then
// serves until a shutdown or config-reload signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"reduck/pkg/agentbridge"
	"reduck/pkg/audioio"
	"reduck/pkg/config"
	"reduck/pkg/converser"
	"reduck/pkg/convo"
	"reduck/pkg/keyword"
	"reduck/pkg/monitor"
	"reduck/pkg/notify/telegram"
	"reduck/pkg/ports"
	"reduck/pkg/relay"
	"reduck/pkg/tts"
	"reduck/pkg/ttsopenai"
	"reduck/pkg/voice"

	jsoniter "github.com/json-iterator/go"

	// Speech provider adapters self-register via init().
	_ "reduck/pkg/speechgenai"
	_ "reduck/pkg/speechws"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, sysCfg, err := config.Load()
	if err == nil {
		monitor.SetupEnvironment(sysCfg.LogLevel)
	}

	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")

	for {
		err := run(ctx, reloadCh)
		if err != nil {
			slog.Error("reduck crashed or failed to load config", "error", err)
			slog.Info("waiting 5 seconds before retrying...")
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("configuration change detected while waiting, retrying immediately")
			case <-time.After(5 * time.Second):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
			slog.Info("==== configuration reloaded ====")
		}
	}
}

// run executes a single lifecycle: load config, build every component, serve
// until shutdown or reload, tear down, return nil to let the outer loop
// restart (or the error that prevented startup).
func run(ctx context.Context, reloadCh <-chan struct{}) error {
	cfg, sysCfg, err := config.Load()
	if err != nil {
		monitor.PrintBanner()
		monitor.SetupSlog("info")
		return fmt.Errorf("load configuration: %w", err)
	}

	m := monitor.SetupEnvironment(sysCfg.LogLevel)
	if err := m.Start(); err != nil {
		slog.Warn("monitor start failed", "error", err)
	}
	defer m.Stop()

	projectCWD, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve project cwd: %w", err)
	}

	logRoot := sysCfg.ConversationLogRoot
	if logRoot == "" {
		logRoot = "data/projects"
	}
	sessionDir := filepath.Join(logRoot, convo.Slug(projectCWD))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("create session log dir: %w", err)
	}
	store := convo.NewStore(sessionDir)

	bridge := agentbridge.New(sysCfg.AgentBinary, sysCfg.AgentConfigDir)
	conv := converser.New(store, bridge, projectCWD)

	srv := relay.NewServer(store, conv, cfg, sysCfg, projectCWD)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Routes())

	// The browser-relay audio sink is mounted on every run, whether or not a
	// speech provider is configured below; only the "openai" TTS provider
	// plays audio through it.
	audioSink := audioio.New()
	mux.Handle("/voice/audio", audioSink)
	ports.RegisterTTSProvider("openai", ttsopenai.NewFactory(audioSink))

	addr := fmt.Sprintf("%s:%d", sysCfg.Host, sysCfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("stream relay listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	voiceRelay, voiceStop, err := buildVoiceRelay(cfg, sysCfg, conv, m)
	if err != nil {
		slog.Warn("voice relay not started", "error", err)
	} else if voiceRelay != nil {
		if err := voiceRelay.Connect(ctx); err != nil {
			slog.Error("voice relay connect failed", "error", err)
		}
		defer voiceStop()
	}

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal, stopping services...")
	case <-reloadCh:
		slog.Info("configuration changes detected, stopping services...")
	case err := <-serveErrCh:
		shutdown(httpServer)
		return fmt.Errorf("stream relay: %w", err)
	}

	shutdown(httpServer)
	time.Sleep(200 * time.Millisecond)

	select {
	case <-ctx.Done():
		return nil
	default:
		return nil
	}
}

func shutdown(s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		slog.Warn("stream relay shutdown", "error", err)
	}
}

// buildVoiceRelay wires one Voice Relay from cfg.Speech/cfg.TTS, when
// present. Returns (nil, nil, nil) when no speech provider is configured
// (the relay surface still works without it).
func buildVoiceRelay(cfg *config.Config, sysCfg *config.SystemConfig, conv *converser.Converser, m monitor.Monitor) (*voice.Relay, func(), error) {
	if len(cfg.Speech) == 0 {
		return nil, nil, nil
	}

	speechPort, err := ports.NewSpeechFromConfig(cfg.Speech)
	if err != nil {
		return nil, nil, fmt.Errorf("speech provider: %w", err)
	}

	ttsPort, err := ports.NewTTSFromConfig(cfg.TTS)
	if err != nil {
		return nil, nil, fmt.Errorf("tts provider: %w", err)
	}
	pump := tts.New(ttsPort)

	transcriptFeed := make(chan string, 32)
	teed := teeTranscriptions(speechPort, transcriptFeed)
	kw := keyword.New(transcriptFeed)

	collab := newCLICollaborator(m)
	var collabs []voice.Collaborator
	collabs = append(collabs, collab)
	if len(cfg.Notify) > 0 {
		var tcfg telegram.Config
		if err := json.Unmarshal(cfg.Notify, &tcfg); err != nil {
			slog.Warn("notify: parse config", "error", err)
		} else if notifier, err := telegram.New(tcfg); err != nil {
			slog.Warn("notify: telegram init", "error", err)
		} else {
			collabs = append(collabs, notifier)
		}
	}

	r := voice.New(teed, pump, conv, kw, fanOutCollaborator(collabs), cfg.DefaultModel, cfg.DefaultSystemPrompt, agentModeFromString(cfg.DefaultPermissionMode), sysCfg.StopWords)

	stop := func() {
		_ = kw.Stop()
		close(transcriptFeed)
	}
	return r, stop, nil
}

func agentModeFromString(s string) agentbridge.PermissionMode {
	if s == string(agentbridge.PermissionAcceptEdits) {
		return agentbridge.PermissionAcceptEdits
	}
	return agentbridge.PermissionPlan
}
