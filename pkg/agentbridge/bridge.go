// Package agentbridge spawns the coding agent as a subprocess and normalizes
// its heterogeneous NDJSON event stream into an ordered sequence of Chunks.
package agentbridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"reduck/pkg/convo"
	"reduck/pkg/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sessionMarkerEnv is stripped from the subprocess environment so a nested
// agent invocation never believes it is already running inside a session.
const sessionMarkerEnv = "CLAUDE_CODE_SSE_PORT"

// PermissionMode selects how the subprocess handles file edits.
type PermissionMode string

const (
	PermissionPlan        PermissionMode = "plan"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
)

// Options configures a single Converse call.
type Options struct {
	Model           string
	SystemPrompt    string
	CWD             string
	SessionID       string
	PermissionMode  PermissionMode
	Fork            bool
	AllowedTools    []string
	DisallowedTools []string
}

// ChunkKind discriminates the Chunk union.
type ChunkKind int

const (
	ChunkTextDelta ChunkKind = iota
	ChunkBlock
	ChunkResult
)

// Chunk is the uniform unit emitted by Converse. Exactly one of Text, Block,
// or Result is populated, per Kind.
type Chunk struct {
	Kind   ChunkKind
	Text   string
	Block  *convo.ContentBlock
	Result *Result
}

// Result is the terminal event of a converse stream.
type Result struct {
	SessionID  string
	CostUSD    *float64
	DurationMs int64
	Error      string
}

// Bridge spawns the agent subprocess and translates its output.
type Bridge struct {
	// AgentBinary is the executable invoked for each converse call.
	AgentBinary string
	// ConfigDir, when set, overrides the agent's own configuration directory
	// so concurrent converse calls never contend over session state.
	ConfigDir string
}

// New constructs a Bridge bound to a specific agent binary and config dir
// override (config dir may be empty to use the agent's default).
func New(agentBinary, configDir string) *Bridge {
	return &Bridge{AgentBinary: agentBinary, ConfigDir: configDir}
}

// Converse spawns the agent, feeds it instruction, and streams back Chunks
// on the returned channel. The channel is closed once the subprocess exits
// (normally or via ctx cancellation); a Result chunk (possibly carrying an
// Error) is always the last value sent unless ctx is canceled before one is
// produced, in which case the channel is simply closed.
func (b *Bridge) Converse(ctx context.Context, instruction string, opts Options) (<-chan Chunk, error) {
	cmd, err := b.buildCommand(ctx, instruction, opts)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agentbridge: stdout pipe: %w: %v", errs.SubprocessSpawnFailure, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agentbridge: stderr pipe: %w: %v", errs.SubprocessSpawnFailure, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agentbridge: start: %w: %v", errs.SubprocessSpawnFailure, err)
	}

	out := make(chan Chunk, 64)

	go logStderr(ctx, stderr)

	go func() {
		defer close(out)

		var done, canceled bool

		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 16*1024*1024)

	scanLoop:
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				canceled = true
				break scanLoop
			default:
			}

			line := scanner.Bytes()
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}

			chunks, d := normalizeLine(line)
			for _, c := range chunks {
				select {
				case out <- c:
				case <-ctx.Done():
					canceled = true
					break scanLoop
				}
			}
			if d {
				done = true
				break scanLoop
			}
		}

		waitErr := cmd.Wait()
		if canceled {
			slog.Debug("agentbridge: converse stream aborted", "error", errs.StreamAborted)
			return
		}
		if done {
			return
		}

		// stdout closed (or the scan loop hit an error) before a terminal
		// Result line ever arrived: synthesize one so the SSE stream still
		// ends with exactly one {done:true,...} event instead of hanging.
		crashErr := errs.SubprocessCrashMidStream
		if waitErr != nil {
			crashErr = fmt.Errorf("%w: %v", errs.SubprocessCrashMidStream, waitErr)
		}
		select {
		case out <- Chunk{Kind: ChunkResult, Result: &Result{Error: crashErr.Error()}}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func (b *Bridge) buildCommand(ctx context.Context, instruction string, opts Options) (*exec.Cmd, error) {
	if b.AgentBinary == "" {
		return nil, fmt.Errorf("agentbridge: %w: no agent binary configured", errs.SubprocessSpawnFailure)
	}

	args := []string{
		"-p", instruction,
		"--output-format", "stream-json",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", string(opts.PermissionMode))
	}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}

	cmd := exec.CommandContext(ctx, b.AgentBinary, args...)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}

	cmd.Env = scrubEnv(os.Environ())
	if b.ConfigDir != "" {
		cmd.Env = append(cmd.Env, "CLAUDE_CONFIG_DIR="+b.ConfigDir)
	}

	return cmd, nil
}

// scrubEnv drops the in-session marker so the spawned subprocess does not
// mistake itself for a nested invocation of its own parent.
func scrubEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, sessionMarkerEnv+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func logStderr(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.WarnContext(ctx, "agent stderr", "line", scanner.Text())
	}
}
