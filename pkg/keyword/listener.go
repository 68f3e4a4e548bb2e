// Package keyword implements ports.KeywordListenerPort by matching a
// configured word set against a stream of already-transcribed text. No
// library in the example corpus does acoustic/audio-domain keyword
// spotting; what the corpus does have is STT-final keyword detection
// (github.com/MrWong99/glyphoxa's internal/discord/voicecmd, which checks
// finished transcripts against patterns) — this package follows the same
// shape, one step further down: fuzzy single-keyword matching rather than
// whole-utterance regex commands, since stop/accept/reject words are
// single tokens a speaker might say imperfectly ("stahp", "cancle").
package keyword

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

const defaultThreshold = 0.85

// Listener matches configured keywords against a text feed — the core's
// transcription stream, fanned out alongside the Voice Relay's own
// consumption of it. A Listener runs for the lifetime of the feed; Start
// and Stop toggle which word set (if any) is currently active, mirroring
// the Voice Relay's alternating stop-word and accept/reject-word holds.
type Listener struct {
	threshold float64

	mu     sync.Mutex
	active bool
	words  map[string]func()

	done chan struct{}
}

// New constructs a Listener that consumes already-transcribed utterances
// from feed until it is closed. feed is typically the same
// onInputTranscription stream the Voice Relay consumes, teed by whatever
// wires the Speech Port up (a realtime provider delivers transcriptions
// continuously regardless of which tool call is in flight).
func New(feed <-chan string) *Listener {
	l := &Listener{
		threshold: defaultThreshold,
		done:      make(chan struct{}),
	}
	go l.run(feed)
	return l
}

func (l *Listener) run(feed <-chan string) {
	for {
		select {
		case text, ok := <-feed:
			if !ok {
				return
			}
			l.check(text)
		case <-l.done:
			return
		}
	}
}

func (l *Listener) check(text string) {
	l.mu.Lock()
	if !l.active || len(l.words) == 0 {
		l.mu.Unlock()
		return
	}
	words := l.words
	l.mu.Unlock()

	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:")
		if token == "" {
			continue
		}
		for keyword, callback := range words {
			if token == keyword || matchr.JaroWinkler(token, keyword, false) >= l.threshold {
				callback()
				return // one keyword fires per utterance; the caller owns resolve-once beyond that
			}
		}
	}
}

// Start activates word as the currently-recognized keyword set. Only one
// set is active at a time — a later Start replaces the previous one.
func (l *Listener) Start(words map[string]func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.words = words
	l.active = true
	return nil
}

// Stop deactivates keyword recognition. The feed keeps running; Stop just
// makes check() a no-op until the next Start.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
	l.words = nil
	return nil
}

// Close permanently stops the Listener's feed-consuming goroutine.
func (l *Listener) Close() error {
	close(l.done)
	return nil
}
