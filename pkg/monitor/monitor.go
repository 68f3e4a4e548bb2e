package monitor

import (
	"context"
	"time"
)

// contextKey is a unique type for values this package stores on a
// context.Context, so they can never collide with a plain string key used
// elsewhere in the program.
type contextKey string

// DebugDirContextKey carries a per-session debug-log subdirectory name
// (e.g. a voice-session id) down through context.Context to the logging
// handler and to provider adapters that write raw-event debug logs.
const DebugDirContextKey contextKey = "debug_dir"

// WithDebugDir returns a context carrying the given debug-log directory
// name, retrievable by the logging handler and provider adapters.
func WithDebugDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, DebugDirContextKey, dir)
}

// MonitorMessage represents a standardized data packet for system
// observability, broadcast whenever a user utterance, agent chunk, or
// lifecycle transition occurs, so CLI/log monitors can display it uniformly.
type MonitorMessage struct {
	Timestamp   time.Time // When the event occurred.
	MessageType string    // "USER", "ASSISTANT", "TOOL", "SYSTEM".
	Source      string    // Originating component: "voice", "bridge", "relay".
	Content     string    // Human-readable summary of the event.
}

// Monitor defines the lifecycle and message consumption protocol for
// observability plugins. Implementations present the internal event flow to
// the operator.
type Monitor interface {
	// Start allocates display resources (e.g. clearing the terminal).
	Start() error
	// Stop releases resources held by Start.
	Stop() error
	// OnMessage receives and displays a monitoring message.
	OnMessage(msg MonitorMessage)
}

// SetupEnvironment initializes the global slog logger at the given level,
// prints the startup banner, and returns the default CLI monitor.
func SetupEnvironment(level string) Monitor {
	SetupSlog(level)
	PrintBanner()
	return NewCLIMonitor()
}
