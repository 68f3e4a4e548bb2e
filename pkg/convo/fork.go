package convo

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"reduck/pkg/errs"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Fork creates a new session whose content is the root→leaf prefix of an
// existing session, identified by leafUUID (or the active leaf if empty).
// Atomicity: only a new file is written, named <newId>.log; the original is
// never mutated. The new file begins with one queue-operation record
// {operation:"dequeue", sessionId:newId, timestamp:now} followed by the
// path entries, each with sessionId rewritten to newId and every other
// field — including unknown ones — preserved verbatim.
func (s *Store) Fork(sessionID, leafUUID string) (newSessionID string, err error) {
	path := s.logPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("convo: session %q: %w", sessionID, errs.NotFound)
	}

	entries, err := ParseLog(path)
	if err != nil {
		return "", err
	}
	tree := NewTree(entries)

	leaf := leafUUID
	if leaf == "" {
		active, ok := ActiveLeaf(tree)
		if !ok {
			return "", fmt.Errorf("convo: session %q has no leaves: %w", sessionID, errs.NotFound)
		}
		leaf = active
	}

	leafToRoot, err := WalkPath(tree, leaf)
	if err != nil {
		return "", err
	}

	newID := uuid.NewString()

	var buf bytes.Buffer
	queueOp := Entry{
		Type:      EntryQueueOperation,
		Operation: "dequeue",
		SessionID: newID,
		Timestamp: forkNow(),
	}
	qb, err := json.Marshal(queueOp)
	if err != nil {
		return "", err
	}
	buf.Write(qb)
	buf.WriteByte('\n')

	for i := len(leafToRoot) - 1; i >= 0; i-- {
		e := leafToRoot[i]
		rewritten, err := rewriteSessionID(e, newID)
		if err != nil {
			return "", err
		}
		buf.Write(rewritten)
		buf.WriteByte('\n')
	}

	newPath := s.logPath(newID)
	if err := os.WriteFile(newPath, buf.Bytes(), 0644); err != nil {
		return "", err
	}

	return newID, nil
}

// rewriteSessionID rewrites only the sessionId field of an entry's original
// bytes via sjson when the raw source is available (the common case), so
// every other field keeps its exact original encoding. Falls back to a full
// typed re-marshal for entries with no raw source (e.g. in tests).
func rewriteSessionID(e Entry, newID string) ([]byte, error) {
	if e.raw != nil {
		return sjson.SetBytes(e.raw, "sessionId", newID)
	}
	return json.Marshal(e.WithSessionID(newID))
}

// forkNow is overridable in tests so fork output is deterministic.
var forkNow = time.Now
