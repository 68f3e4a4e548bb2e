package ports

// TeeInputTranscriptions wraps a SpeechPort so every SpeechInputTranscription
// event's text is also copied onto feed (non-blocking: a full feed channel
// drops rather than stalls event delivery to the real consumer), while every
// event — including the transcription itself — still reaches the returned
// port's own Events() channel unmodified. This is how the Voice Relay's
// transcription stream and the Keyword Listener's independent feed share one
// upstream Speech Port connection without the port interface itself needing
// a second subscriber concept (§6.4).
func TeeInputTranscriptions(p SpeechPort, feed chan<- string) SpeechPort {
	return &teeingPort{SpeechPort: p, feed: feed}
}

type teeingPort struct {
	SpeechPort
	feed chan<- string
}

func (t *teeingPort) Events() <-chan SpeechEvent {
	in := t.SpeechPort.Events()
	out := make(chan SpeechEvent, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			if ev.Kind == SpeechInputTranscription && ev.Text != "" {
				select {
				case t.feed <- ev.Text:
				default:
				}
			}
			out <- ev
		}
	}()
	return out
}
