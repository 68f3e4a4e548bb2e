// Package errs defines the behavioral error kinds shared across Reduck's
// components (spec §7). These are sentinel values, matched with errors.Is,
// not HTTP status codes — only the Stream Relay's edge handlers translate
// them into wire shapes.
package errs

import "errors"

var (
	// NotFound: a session id, leaf uuid, or project slug could not be
	// located. The Stream Relay maps this to HTTP 404.
	NotFound = errors.New("not found")

	// MalformedEntry: a log line failed to parse. Callers drop the line
	// silently and continue; the Agent Bridge attaches this kind to the
	// debug log record of each line it drops.
	MalformedEntry = errors.New("malformed entry")

	// SubprocessSpawnFailure: the agent subprocess could not be started.
	SubprocessSpawnFailure = errors.New("subprocess spawn failure")

	// SubprocessCrashMidStream: the agent subprocess exited or its stdout
	// closed before a terminal Result was produced.
	SubprocessCrashMidStream = errors.New("subprocess crashed mid-stream")

	// StreamAborted: the caller disconnected or explicitly cancelled; not
	// logged above debug severity.
	StreamAborted = errors.New("stream aborted")

	// SpeechProviderDisconnect: the speech relay port's underlying
	// connection closed unexpectedly.
	SpeechProviderDisconnect = errors.New("speech provider disconnected")

	// TTSOverflow: the TTS provider's context window was exhausted.
	TTSOverflow = errors.New("tts context window exhausted")

	// ToolCallUnknownName: a declared tool call referenced a name the
	// voice relay has no handler for.
	ToolCallUnknownName = errors.New("unknown tool")

	// ApprovalDoubleFire: a PendingApproval's resolution was attempted a
	// second time; the second attempt is always a no-op.
	ApprovalDoubleFire = errors.New("approval already resolved")
)
