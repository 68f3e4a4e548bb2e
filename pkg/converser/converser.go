// Package converser holds the fork-then-stream converse logic shared by the
// Stream Relay's HTTP handler and the in-process Voice Relay, so both
// surfaces drive the same Agent Bridge invocation path instead of the voice
// relay looping an HTTP request back to its own server.
package converser

import (
	"context"
	"errors"
	"fmt"

	"reduck/pkg/agentbridge"
	"reduck/pkg/convo"
	"reduck/pkg/errs"
)

// Request mirrors the §6 converse request body.
type Request struct {
	Instruction    string
	SessionID      string
	LeafUUID       string
	Model          string
	SystemPrompt   string
	PermissionMode agentbridge.PermissionMode
}

// Converser runs the §4.3 rule-1 fork-then-converse flow against a
// Conversation Store and Agent Bridge.
type Converser struct {
	Store      *convo.Store
	Bridge     *agentbridge.Bridge
	ProjectCWD string
}

// New constructs a Converser.
func New(store *convo.Store, bridge *agentbridge.Bridge, projectCWD string) *Converser {
	return &Converser{Store: store, Bridge: bridge, ProjectCWD: projectCWD}
}

// Converse forks the session when both SessionID and LeafUUID are present
// and resolve, then spawns the Agent Bridge. It returns the effective
// session id (the fork target if a fork happened), whether a fork
// occurred, and the Chunk stream.
func (c *Converser) Converse(ctx context.Context, req Request) (sessionID string, forked bool, chunks <-chan agentbridge.Chunk, err error) {
	sessionID = req.SessionID
	leafUUID := req.LeafUUID

	if req.SessionID != "" && req.LeafUUID != "" {
		if _, pathErr := c.Store.LoadPath(req.SessionID, req.LeafUUID); pathErr == nil {
			newID, forkErr := c.Store.Fork(req.SessionID, req.LeafUUID)
			if forkErr != nil {
				return "", false, nil, forkErr
			}
			sessionID, leafUUID, forked = newID, "", true
		} else if !errors.Is(pathErr, errs.NotFound) {
			return "", false, nil, pathErr
		}
	}
	_ = leafUUID // the forked/unforked session id alone addresses the new log

	opts := agentbridge.Options{
		Model:          req.Model,
		SystemPrompt:   req.SystemPrompt,
		CWD:            c.ProjectCWD,
		SessionID:      sessionID,
		PermissionMode: req.PermissionMode,
		Fork:           forked,
	}

	out, err := c.Bridge.Converse(ctx, req.Instruction, opts)
	if err != nil {
		return "", false, nil, fmt.Errorf("converser: %w", err)
	}
	return sessionID, forked, out, nil
}
