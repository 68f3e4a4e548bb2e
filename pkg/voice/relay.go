// Package voice implements the Voice Relay: the state machine owning one
// speech session, dispatching declared tool calls, freezing/unfreezing mic
// audio across approval holds, and driving the Agent Bridge via the shared
// Converser (§4.4).
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"reduck/pkg/agentbridge"
	"reduck/pkg/converser"
	"reduck/pkg/convo"
	"reduck/pkg/errs"
	"reduck/pkg/ports"
	"reduck/pkg/tts"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is the top-level connection state (§4.4).
type State int

const (
	Idle State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Role distinguishes committed-message speakers.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CommittedMessage is one entry in the client-owned message log.
type CommittedMessage struct {
	Role Role
	Text string
	// UUID names the persisted conversation entry this message corresponds
	// to, for GoBack's leaf retargeting. The Relay never sets it: every
	// message it commits, user or assistant, carries an empty UUID.
	UUID string
}

// PendingTool is the live, uncommitted record of an in-flight tool call
// (§3 Pending Tool).
type PendingTool struct {
	Name      string
	Args      []byte
	Streaming bool
	textAccum strings.Builder
	Blocks    []convo.ContentBlock
}

// PendingApproval is the live approval hold record (§3 Pending Approval):
// exactly one of execute/cancel is honored, guarded by resolved.
type PendingApproval struct {
	Instruction string
	execute     func()
	cancel      func()

	mu       sync.Mutex
	resolved bool
}

// Accept resolves the approval by executing it. Idempotent: only the first
// of Accept/Reject across any number of concurrent callers takes effect
// (§4.4 "exactly-once semantics").
func (a *PendingApproval) Accept() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolved {
		slog.Debug("voice: approval resolution attempted twice", "error", errs.ApprovalDoubleFire)
		return
	}
	a.resolved = true
	a.execute()
}

// Reject resolves the approval by canceling it.
func (a *PendingApproval) Reject() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolved {
		slog.Debug("voice: approval resolution attempted twice", "error", errs.ApprovalDoubleFire)
		return
	}
	a.resolved = true
	a.cancel()
}

// Collaborator receives the side-effects the core delegates to external
// surfaces: status changes, commit signals, approval presentation, and
// toasts. The UI and notification channel (e.g. Telegram mirroring)
// implement this.
type Collaborator interface {
	StatusChanged(state State)
	UtteranceCommitted(msg CommittedMessage)
	PresentApproval(approval *PendingApproval)
	Toast(message string)
}

// ConverseMode selects how a converse tool call is handled.
type ConverseMode string

const (
	ModeDirect ConverseMode = "direct"
	ModeReview ConverseMode = "review"
)

// converseArgs is the declared shape of the converse tool's arguments.
type converseArgs struct {
	Instruction string       `json:"instruction"`
	Mode        ConverseMode `json:"mode"`
}

// Relay owns one speech session end to end (§4.4).
type Relay struct {
	speech    ports.SpeechPort
	pump      *tts.Pump
	conv      *converser.Converser
	keywords  ports.KeywordListenerPort
	collab    Collaborator
	stopWords map[string]struct{}

	model, systemPrompt string
	permissionMode      agentbridge.PermissionMode

	mu              sync.Mutex
	state           State
	converseActive  bool
	approvalHolding bool
	pendingInput    strings.Builder
	messages        []CommittedMessage
	pendingTool     *PendingTool
	pendingApproval *PendingApproval
	sessionID       string
	leafUUID        string
	abortFn         func()
	expectedClose   bool
}

// New constructs a Relay. stopWords configure the keyword listener started
// while a converse is active; the ApprovalHolding review listens for a
// fixed accept/reject set ("yes"/"ok" accept, "no"/"cancel" reject) that
// is not configurable.
func New(speech ports.SpeechPort, pump *tts.Pump, conv *converser.Converser, keywords ports.KeywordListenerPort, collab Collaborator, model, systemPrompt string, permissionMode agentbridge.PermissionMode, stopWords []string) *Relay {
	sw := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		sw[w] = struct{}{}
	}
	return &Relay{
		speech:         speech,
		pump:           pump,
		conv:           conv,
		keywords:       keywords,
		collab:         collab,
		stopWords:      sw,
		model:          model,
		systemPrompt:   systemPrompt,
		permissionMode: permissionMode,
		state:          Idle,
	}
}

// declaredTools are the tools the core always exposes to the speech
// provider (§6): at minimum converse and stop.
func declaredTools() []ports.ToolDeclaration {
	return []ports.ToolDeclaration{
		{Name: "converse", Description: "Forward an instruction to the coding agent."},
		{Name: "stop", Description: "Abort any in-flight converse."},
	}
}

// Connect sends setup through the port and enters Connected as soon as the
// port's Connect returns. It does not wait for a setup-complete message
// from the speech server.
func (r *Relay) Connect(ctx context.Context) error {
	r.setState(Connecting)

	opts := ports.SetupOptions{
		Tools:                     declaredTools(),
		SystemPrompt:              r.systemPrompt,
		EnableInputTranscription:  true,
		EnableOutputTranscription: true,
	}
	if err := r.speech.Connect(ctx, opts); err != nil {
		r.setState(Idle)
		return fmt.Errorf("voice: connect: %w", err)
	}

	r.setState(Connected)
	go r.runEventLoop(ctx)
	return nil
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.collab != nil {
		r.collab.StatusChanged(s)
	}
}

// runEventLoop drains the speech port's events for the lifetime of the
// session.
func (r *Relay) runEventLoop(ctx context.Context) {
	for ev := range r.speech.Events() {
		r.handleEvent(ctx, ev)
	}
}

func (r *Relay) handleEvent(ctx context.Context, ev ports.SpeechEvent) {
	switch ev.Kind {
	case ports.SpeechInputTranscription:
		r.mu.Lock()
		r.pendingInput.WriteString(ev.Text)
		r.mu.Unlock()

	case ports.SpeechToolCall:
		r.handleToolCall(ctx, ev)

	case ports.SpeechInterrupted:
		r.abort()
		r.commitTurn()

	case ports.SpeechGoAway:
		slog.Warn("voice: speech server sent go-away")

	case ports.SpeechClose:
		r.mu.Lock()
		expected := r.expectedClose || ev.Expected
		r.mu.Unlock()
		if !expected {
			slog.Warn("voice: speech session closed unexpectedly", "error", errs.SpeechProviderDisconnect)
			r.abort()
			r.pump.Close()
			if r.keywords != nil {
				_ = r.keywords.Stop()
			}
			r.setState(Idle)
			r.collab.Toast("Speech session closed unexpectedly.")
		}

	case ports.SpeechOutputTranscription:
		// Surfaced to the UI via the collaborator's own subscription to the
		// speech port, if any; the core has no additional bookkeeping here.
	}
}

// SendMicAudio forwards mic audio only when not gated by ApprovalHolding
// and the session is live (§4.4 approval gating invariant).
func (r *Relay) SendMicAudio(chunk []byte) error {
	r.mu.Lock()
	gated := r.approvalHolding || r.state != Connected
	r.mu.Unlock()
	if gated {
		return nil
	}
	return r.speech.SendAudio(chunk)
}

// commitTurn flushes pendingInput into the message log, merging with a
// prior consecutive user turn if present, and signals the collaborator.
func (r *Relay) commitTurn() {
	r.mu.Lock()
	text := r.pendingInput.String()
	r.pendingInput.Reset()
	if text == "" {
		r.mu.Unlock()
		return
	}

	if n := len(r.messages); n > 0 && r.messages[n-1].Role == RoleUser {
		r.messages[n-1].Text += text
	} else {
		r.messages = append(r.messages, CommittedMessage{Role: RoleUser, Text: text})
	}
	msg := r.messages[len(r.messages)-1]
	r.mu.Unlock()

	r.collab.UtteranceCommitted(msg)
}

func (r *Relay) handleToolCall(ctx context.Context, ev ports.SpeechEvent) {
	r.commitTurn()

	if ev.ToolName == "stop" {
		r.abort()
		_ = r.speech.RespondToolCall(ev.ToolCallID, map[string]string{"result": "stopped"})
		return
	}

	r.mu.Lock()
	r.pendingTool = &PendingTool{Name: ev.ToolName, Args: ev.ToolArgs, Streaming: true}
	r.mu.Unlock()

	if ev.ToolName == "converse" {
		var args converseArgs
		if err := json.Unmarshal(ev.ToolArgs, &args); err != nil {
			_ = r.speech.RespondToolCall(ev.ToolCallID, map[string]string{"error": "malformed converse arguments"})
			return
		}
		switch args.Mode {
		case ModeReview:
			r.startApprovalHold(ctx, ev.ToolCallID, args.Instruction)
		default:
			_ = r.speech.RespondToolCall(ev.ToolCallID, map[string]string{"result": "done"})
			r.executeConverse(ctx, args.Instruction)
		}
		return
	}

	// Any other declared tool: execute a local handler. The core has no
	// built-in handlers beyond converse/stop; an unrecognized declared
	// tool is answered with an error per §7 ToolCallWithUnknownName.
	slog.Warn("voice: tool call with unknown name", "error", fmt.Errorf("%w: %s", errs.ToolCallUnknownName, ev.ToolName))
	_ = r.speech.RespondToolCall(ev.ToolCallID, map[string]string{"error": fmt.Sprintf("Unknown tool: %s", ev.ToolName)})
}

// startApprovalHold enters ApprovalHolding: reads the instruction back via
// TTS, starts an accept/reject keyword listener, and presents a
// PendingApproval that resolves exactly once.
func (r *Relay) startApprovalHold(ctx context.Context, toolCallID, instruction string) {
	r.mu.Lock()
	r.approvalHolding = true
	approval := &PendingApproval{Instruction: instruction}
	approval.execute = func() {
		r.mu.Lock()
		r.approvalHolding = false
		r.pendingApproval = nil
		r.mu.Unlock()
		if r.keywords != nil {
			_ = r.keywords.Stop()
		}
		_ = r.speech.RespondToolCall(toolCallID, map[string]string{"result": "done"})
		r.executeConverse(ctx, instruction)
	}
	approval.cancel = func() {
		r.mu.Lock()
		r.approvalHolding = false
		r.pendingApproval = nil
		r.mu.Unlock()
		if r.keywords != nil {
			_ = r.keywords.Stop()
		}
		_ = r.speech.RespondToolCall(toolCallID, map[string]string{"status": "rejected"})
	}
	r.pendingApproval = approval
	r.mu.Unlock()

	r.pump.Resume()
	r.pump.Send(instruction)
	r.pump.Finish()

	if r.keywords != nil {
		_ = r.keywords.Start(map[string]func(){
			"yes":    approval.Accept,
			"ok":     approval.Accept,
			"no":     approval.Reject,
			"cancel": approval.Reject,
		})
	}

	r.collab.PresentApproval(approval)
}

// executeConverse runs the ConverseActive flow (§4.4 steps 1-6).
func (r *Relay) executeConverse(ctx context.Context, instruction string) {
	r.mu.Lock()
	r.messages = append(r.messages, CommittedMessage{Role: RoleUser, Text: instruction})
	r.converseActive = true
	sessionID, leafUUID := r.sessionID, r.leafUUID
	r.mu.Unlock()

	r.pump.Resume()

	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.abortFn = cancel
	r.mu.Unlock()

	if r.keywords != nil {
		_ = r.keywords.Start(r.stopWordCallbacks())
	}

	newSessionID, _, chunks, err := r.conv.Converse(runCtx, converser.Request{
		Instruction:    instruction,
		SessionID:      sessionID,
		LeafUUID:       leafUUID,
		Model:          r.model,
		SystemPrompt:   r.systemPrompt,
		PermissionMode: r.permissionMode,
	})
	if err != nil {
		r.abort()
		r.collab.Toast(fmt.Sprintf("Converse failed: %v", err))
		return
	}

	go r.consumeConverse(newSessionID, chunks)
}

func (r *Relay) stopWordCallbacks() map[string]func() {
	cb := make(map[string]func(), len(r.stopWords))
	for w := range r.stopWords {
		cb[w] = r.abort
	}
	return cb
}

// consumeConverse drains the converse chunk stream, feeding text to the TTS
// Pump and accumulating blocks on the PendingTool (§4.4 step 5).
func (r *Relay) consumeConverse(sessionID string, chunks <-chan agentbridge.Chunk) {
	for chunk := range chunks {
		switch chunk.Kind {
		case agentbridge.ChunkTextDelta:
			r.mu.Lock()
			if r.pendingTool != nil {
				r.pendingTool.textAccum.WriteString(chunk.Text)
			}
			r.mu.Unlock()
			r.pump.Send(chunk.Text)

		case agentbridge.ChunkBlock:
			r.mu.Lock()
			if r.pendingTool != nil && chunk.Block != nil {
				r.pendingTool.Blocks = append(r.pendingTool.Blocks, *chunk.Block)
			}
			r.mu.Unlock()

		case agentbridge.ChunkResult:
			resolvedSessionID := sessionID
			if chunk.Result.SessionID != "" {
				resolvedSessionID = chunk.Result.SessionID
			}

			r.mu.Lock()
			if r.pendingTool != nil {
				r.pendingTool.Streaming = false
				assistantText := r.pendingTool.textAccum.String()
				r.messages = append(r.messages, CommittedMessage{Role: RoleAssistant, Text: assistantText})
			}
			r.sessionID = resolvedSessionID
			r.converseActive = false
			r.mu.Unlock()

			r.pump.Finish()
			if r.keywords != nil {
				_ = r.keywords.Stop()
			}
			if chunk.Result.Error != "" {
				r.collab.Toast(chunk.Result.Error)
			}
		}
	}
}

// abort is idempotent: cancels the in-flight converse stream, interrupts TTS,
// stops the keyword listener, and closes any PendingTool (§4.4 step 6).
func (r *Relay) abort() {
	r.mu.Lock()
	fn := r.abortFn
	r.abortFn = nil
	r.converseActive = false
	r.pendingTool = nil
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
	r.pump.Interrupt()
	if r.keywords != nil {
		_ = r.keywords.Stop()
	}
}

// GoBack truncates the committed message list to messages[0:k], clears any
// PendingTool/PendingApproval before awaiting, and sets leafUUID to
// messages[k-1].UUID so the next converse forks at that point (§4.4
// Back/rewind). An empty UUID, as on every message the Relay commits
// itself, leaves leafUUID empty and the next converse does not fork.
func (r *Relay) GoBack(k int) {
	r.abort()

	// Reject outside r.mu: the approval's cancel path takes r.mu itself.
	r.mu.Lock()
	approval := r.pendingApproval
	r.pendingApproval = nil
	r.mu.Unlock()
	if approval != nil {
		approval.Reject()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if k < 0 {
		k = 0
	}
	if k > len(r.messages) {
		k = len(r.messages)
	}
	r.messages = r.messages[:k]
	if k > 0 {
		r.leafUUID = r.messages[k-1].UUID
	} else {
		r.leafUUID = ""
	}
}

// Close is user-initiated: marks the close as expected, aborts any
// ConverseActive, closes the TTS Pump and the speech session (§4.4 Close).
func (r *Relay) Close() {
	r.mu.Lock()
	r.expectedClose = true
	r.mu.Unlock()

	r.abort()
	r.pump.Close()
	_ = r.speech.Close()
	r.setState(Idle)
}

// Messages returns a snapshot of the committed message log.
func (r *Relay) Messages() []CommittedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CommittedMessage, len(r.messages))
	copy(out, r.messages)
	return out
}
