package main

import (
	"time"

	"reduck/pkg/monitor"
	"reduck/pkg/ports"
	"reduck/pkg/voice"
)

// teeTranscriptions wraps speechPort so input transcriptions also reach the
// keyword listener's feed, independent of whatever the Voice Relay itself
// does with the event.
func teeTranscriptions(speechPort ports.SpeechPort, feed chan<- string) ports.SpeechPort {
	return ports.TeeInputTranscriptions(speechPort, feed)
}

// cliCollaborator implements voice.Collaborator by forwarding every
// lifecycle signal to the console Monitor, and auto-resolving approval
// holds is deliberately NOT done here: with no UI attached, presenting the
// approval on the console and leaving it to the keyword listener (or a
// Telegram notifier, if configured) to resolve it is the correct behavior.
type cliCollaborator struct {
	m monitor.Monitor
}

func newCLICollaborator(m monitor.Monitor) *cliCollaborator {
	return &cliCollaborator{m: m}
}

func (c *cliCollaborator) StatusChanged(state voice.State) {
	c.m.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: "SYSTEM",
		Source:      "voice",
		Content:     "status: " + state.String(),
	})
}

func (c *cliCollaborator) UtteranceCommitted(msg voice.CommittedMessage) {
	kind := "USER"
	if msg.Role == voice.RoleAssistant {
		kind = "ASSISTANT"
	}
	c.m.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: kind,
		Source:      "voice",
		Content:     msg.Text,
	})
}

func (c *cliCollaborator) PresentApproval(approval *voice.PendingApproval) {
	c.m.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: "SYSTEM",
		Source:      "voice",
		Content:     "approval hold: \"" + approval.Instruction + "\" — say an accept/reject word",
	})
}

func (c *cliCollaborator) Toast(message string) {
	c.m.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: "SYSTEM",
		Source:      "voice",
		Content:     message,
	})
}

// fanOutCollaborator broadcasts every Collaborator call to a fixed list of
// collaborators, so the console monitor and an optional Telegram notifier
// can both observe the same Voice Relay session.
type fanOutCollaborator []voice.Collaborator

func (f fanOutCollaborator) StatusChanged(state voice.State) {
	for _, c := range f {
		c.StatusChanged(state)
	}
}

func (f fanOutCollaborator) UtteranceCommitted(msg voice.CommittedMessage) {
	for _, c := range f {
		c.UtteranceCommitted(msg)
	}
}

func (f fanOutCollaborator) PresentApproval(approval *voice.PendingApproval) {
	for _, c := range f {
		c.PresentApproval(approval)
	}
}

func (f fanOutCollaborator) Toast(message string) {
	for _, c := range f {
		c.Toast(message)
	}
}
