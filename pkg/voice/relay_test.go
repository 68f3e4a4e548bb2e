package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"reduck/pkg/agentbridge"
	"reduck/pkg/converser"
	"reduck/pkg/ports"
	"reduck/pkg/tts"
)

type fakeSpeech struct {
	mu        sync.Mutex
	events    chan ports.SpeechEvent
	audio     [][]byte
	responses []struct {
		id      string
		payload any
	}
	closed bool
}

func newFakeSpeech() *fakeSpeech {
	return &fakeSpeech{events: make(chan ports.SpeechEvent, 16)}
}

func (f *fakeSpeech) Connect(ctx context.Context, opts ports.SetupOptions) error { return nil }

func (f *fakeSpeech) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, chunk)
	return nil
}

func (f *fakeSpeech) SendClientContext(text string, turnComplete bool) error { return nil }

func (f *fakeSpeech) RespondToolCall(id string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, struct {
		id      string
		payload any
	}{id, payload})
	return nil
}

// Close mimics the real speech-port adapters: calling Close locally makes
// the read loop's own ReadMessage fail, which emits an untagged
// SpeechClose event (Expected always false, the same as a peer-initiated
// close) before the events channel closes.
func (f *fakeSpeech) Close() error {
	f.closed = true
	f.events <- ports.SpeechEvent{Kind: ports.SpeechClose}
	close(f.events)
	return nil
}

func (f *fakeSpeech) Events() <-chan ports.SpeechEvent { return f.events }

func (f *fakeSpeech) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeSpeech) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses)
}

type fakeTTSPort struct {
	mu     sync.Mutex
	closed bool
	events chan ports.TTSEvent
}

func newFakeTTSPort() *fakeTTSPort { return &fakeTTSPort{events: make(chan ports.TTSEvent, 16)} }

func (f *fakeTTSPort) Send(ctx context.Context, text string, turnComplete bool) error {
	f.events <- ports.TTSEvent{Kind: ports.TTSTurnComplete}
	return nil
}
func (f *fakeTTSPort) Interrupt() error { return nil }

// Close tolerates being called twice: a test may both exercise Relay.Close
// (which tears down the pump) and rely on newTestRelay's own cleanup.
func (f *fakeTTSPort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}
func (f *fakeTTSPort) Events() <-chan ports.TTSEvent { return f.events }

type fakeKeywords struct {
	mu      sync.Mutex
	started bool
	words   map[string]func()
}

func (f *fakeKeywords) Start(words map[string]func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.words = words
	return nil
}

func (f *fakeKeywords) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

type fakeCollab struct {
	mu        sync.Mutex
	states    []State
	committed []CommittedMessage
	approvals []*PendingApproval
	toasts    []string
}

func (f *fakeCollab) StatusChanged(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}
func (f *fakeCollab) UtteranceCommitted(msg CommittedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg)
}
func (f *fakeCollab) PresentApproval(a *PendingApproval) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, a)
}
func (f *fakeCollab) Toast(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, msg)
}

func newTestRelay(t *testing.T) (*Relay, *fakeSpeech, *fakeCollab, *fakeKeywords) {
	t.Helper()
	speech := newFakeSpeech()
	collab := &fakeCollab{}
	kw := &fakeKeywords{}
	pump := tts.New(newFakeTTSPort())
	t.Cleanup(pump.Close)
	conv := converser.New(nil, agentbridge.New("", ""), "/tmp")
	r := New(speech, pump, conv, kw, collab, "model-1", "be terse", agentbridge.PermissionMode("plan"), []string{"stop", "cancel"})
	return r, speech, collab, kw
}

func TestCommitTurnMergesConsecutiveUserTurns(t *testing.T) {
	r, _, collab, _ := newTestRelay(t)

	r.mu.Lock()
	r.pendingInput.WriteString("hello ")
	r.mu.Unlock()
	r.commitTurn()

	r.mu.Lock()
	r.pendingInput.WriteString("world")
	r.mu.Unlock()
	r.commitTurn()

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected consecutive user turns merged into one message, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Text != "hello world" {
		t.Fatalf("expected merged text 'hello world', got %q", msgs[0].Text)
	}
	if len(collab.committed) != 2 {
		t.Fatalf("expected a commit signal per commitTurn call, got %d", len(collab.committed))
	}
}

func TestStopToolAbortsWithoutPendingTool(t *testing.T) {
	r, speech, _, _ := newTestRelay(t)

	speech.events <- ports.SpeechEvent{Kind: ports.SpeechToolCall, ToolCallID: "c1", ToolName: "stop"}
	go r.runEventLoop(context.Background())

	deadline := time.Now().Add(time.Second)
	for speech.responseCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if speech.responseCount() != 1 {
		t.Fatal("expected exactly one response to the stop tool call")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingTool != nil {
		t.Fatal("stop must not create a PendingTool")
	}
	close(speech.events)
}

func TestApprovalResolvesExactlyOnce(t *testing.T) {
	r, _, _, kw := newTestRelay(t)

	var calls int
	var mu sync.Mutex
	approval := &PendingApproval{Instruction: "do the thing"}
	approval.execute = func() { mu.Lock(); calls++; mu.Unlock() }
	approval.cancel = func() { mu.Lock(); calls++; mu.Unlock() }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				approval.Accept()
			} else {
				approval.Reject()
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one resolution across concurrent accept/reject, got %d", calls)
	}
	_ = kw
}

func TestMicAudioGatedDuringApprovalHold(t *testing.T) {
	r, speech, _, _ := newTestRelay(t)
	r.mu.Lock()
	r.state = Connected
	r.mu.Unlock()

	if err := r.SendMicAudio([]byte("chunk1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if speech.audioCount() != 1 {
		t.Fatalf("expected audio forwarded when ungated, got %d", speech.audioCount())
	}

	r.mu.Lock()
	r.approvalHolding = true
	r.mu.Unlock()

	if err := r.SendMicAudio([]byte("chunk2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if speech.audioCount() != 1 {
		t.Fatalf("expected audio dropped during ApprovalHolding, got %d", speech.audioCount())
	}
}

func TestCloseSuppressesUnexpectedCloseToast(t *testing.T) {
	r, speech, collab, _ := newTestRelay(t)
	go r.runEventLoop(context.Background())

	r.Close()

	deadline := time.Now().Add(time.Second)
	for {
		collab.mu.Lock()
		n := len(collab.toasts)
		collab.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	collab.mu.Lock()
	defer collab.mu.Unlock()
	if len(collab.toasts) != 0 {
		t.Fatalf("user-initiated Close must not surface an unexpected-close toast, got %v", collab.toasts)
	}
	_ = speech
}

func TestUnexpectedSpeechCloseSurfacesToast(t *testing.T) {
	r, speech, collab, _ := newTestRelay(t)
	go r.runEventLoop(context.Background())

	speech.events <- ports.SpeechEvent{Kind: ports.SpeechClose}
	close(speech.events)

	deadline := time.Now().Add(time.Second)
	for {
		collab.mu.Lock()
		n := len(collab.toasts)
		collab.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	collab.mu.Lock()
	defer collab.mu.Unlock()
	if len(collab.toasts) != 1 {
		t.Fatalf("expected one unexpected-close toast, got %v", collab.toasts)
	}
}

func TestGoBackTruncatesMessages(t *testing.T) {
	r, _, _, _ := newTestRelay(t)
	r.mu.Lock()
	r.messages = []CommittedMessage{
		{Role: RoleUser, Text: "q1", UUID: "u1"},
		{Role: RoleAssistant, Text: "a1", UUID: "u2"},
		{Role: RoleUser, Text: "q2", UUID: "u3"},
	}
	r.mu.Unlock()

	r.GoBack(1)

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Text != "q1" {
		t.Fatalf("expected truncation to first message, got %+v", msgs)
	}
	r.mu.Lock()
	leaf := r.leafUUID
	r.mu.Unlock()
	if leaf != "u1" {
		t.Fatalf("expected leafUUID set to messages[k-1].uuid, got %q", leaf)
	}
}
