// Package tts implements the TTS Pump: a persistent speech-synthesis
// session with sentence-boundary buffering, interrupt semantics, and
// mute-on-cancel, reused across many converse calls within one voice
// session (§4.5).
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reduck/pkg/errs"
	"reduck/pkg/ports"
)

const (
	// MinChars is the minimum accumulated buffer length before a
	// sentence-terminal punctuation mark triggers a flush.
	MinChars = 80
	// MaxWait is the fallback timer that flushes the buffer even absent
	// sentence-terminal punctuation.
	MaxWait = time.Second

	// readMarker prefixes every flushed turn so the synthesis model reads
	// the text aloud instead of answering it.
	readMarker = "[READ]: "
)

// sentenceTerminals are checked in order; each must be followed by a space
// to avoid splitting on abbreviations/decimals mid-word.
var sentenceTerminals = []string{". ", "! ", "? "}

// Pump owns one synthesis session's sentence buffer and flush state
// machine. It is safe for concurrent use: Send is expected to be called
// from the converse-consumption goroutine while provider events arrive on
// a separate goroutine draining port.Events().
type Pump struct {
	port port

	mu           sync.Mutex
	buf          strings.Builder
	pendingSends int
	muted        bool
	finishing    bool
	timer        *time.Timer

	minChars int
	maxWait  time.Duration

	done chan struct{}
}

// port is the subset of ports.TTSPort the pump drives; narrowed for testing.
type port interface {
	Send(ctx context.Context, text string, turnComplete bool) error
	Interrupt() error
	Close() error
	Events() <-chan ports.TTSEvent
}

// New constructs a Pump bound to a connected TTS provider session and
// starts draining its event channel.
func New(p port) *Pump {
	pump := &Pump{
		port:     p,
		minChars: MinChars,
		maxWait:  MaxWait,
		done:     make(chan struct{}),
	}
	go pump.drainEvents()
	return pump
}

// Send appends streamed agent text to the sentence buffer. A flush fires
// immediately when sentence-terminal punctuation is seen once the buffer
// holds at least minChars; otherwise the fallback timer covers it. Send
// clears the muted flag, per §4.5 ("cleared by next send()"). Once a prior
// turn has called Finish and its sends have all drained, the pump stops
// accepting further text until Resume is called (executeConverse and
// startApprovalHold call Resume at the start of each turn, so this only
// rejects a stray late call).
func (p *Pump) Send(text string) {
	if text == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finishing && p.pendingSends == 0 {
		return
	}

	p.muted = false
	p.buf.WriteString(text)

	if p.buf.Len() >= p.minChars && endsInSentenceTerminal(p.buf.String()) {
		p.flushLocked()
		return
	}

	if p.timer == nil {
		p.timer = time.AfterFunc(p.maxWait, p.onTimerFire)
	}
}

// Finish marks the pump as finishing: once pendingSends drains to zero the
// pump stops accepting further text, but the connection stays alive.
func (p *Pump) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finishing = true
	if p.buf.Len() > 0 {
		p.flushLocked()
	}
}

// Resume clears the finishing flag so the pump accepts text again. Callers
// invoke this when a new converse or approval-hold turn begins, since the
// same long-lived session is reused across many turns.
func (p *Pump) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishing = false
}

// Interrupt clears the sentence buffer, zeroes pendingSends, resets
// finishing, mutes incoming audio, and flushes (not closes) the audio sink
// so the output context survives for reuse across the next converse.
func (p *Pump) Interrupt() {
	p.mu.Lock()
	p.buf.Reset()
	p.pendingSends = 0
	p.finishing = false
	p.muted = true
	p.stopTimerLocked()
	p.mu.Unlock()

	if err := p.port.Interrupt(); err != nil {
		slog.Error("tts: interrupt failed", "error", err)
	}
}

// Close is terminal: stops the audio sink irreversibly and tears down the
// provider session.
func (p *Pump) Close() {
	p.mu.Lock()
	p.stopTimerLocked()
	p.mu.Unlock()

	if err := p.port.Close(); err != nil {
		slog.Error("tts: close failed", "error", err)
	}
	<-p.done
}

// Muted reports whether incoming playback audio should currently be
// dropped (set by Interrupt, cleared by the next Send).
func (p *Pump) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func endsInSentenceTerminal(s string) bool {
	for _, t := range sentenceTerminals {
		if strings.HasSuffix(s, t) {
			return true
		}
	}
	return false
}

func (p *Pump) onTimerFire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil
	if p.buf.Len() > 0 {
		p.flushLocked()
	}
}

// flushLocked delivers the buffered text as one turn-complete context
// message and resets the buffer. Caller holds p.mu.
func (p *Pump) flushLocked() {
	text := readMarker + p.buf.String()
	p.buf.Reset()
	p.stopTimerLocked()
	p.pendingSends++

	go func() {
		// A synthesis send can fail because the provider's context window is
		// exhausted (§7 TTSOverflow); the port contract has no narrower
		// failure code than this, so any send failure is attributed to it.
		if err := p.port.Send(context.Background(), text, true); err != nil {
			slog.Error("tts: send failed", "error", fmt.Errorf("%w: %v", errs.TTSOverflow, err))
		}
	}()
}

func (p *Pump) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// drainEvents consumes provider-side turn-complete notifications and
// decrements pendingSends, guarding the finishing transition.
func (p *Pump) drainEvents() {
	defer close(p.done)
	for ev := range p.port.Events() {
		switch ev.Kind {
		case ports.TTSTurnComplete:
			p.mu.Lock()
			if p.pendingSends > 0 {
				p.pendingSends--
			}
			p.mu.Unlock()
		case ports.TTSDisconnect:
			slog.Warn("tts: provider disconnected")
			return
		}
	}
}
