package convo

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, dir, id string, lines []string) {
	t.Helper()
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, id+".log"), []byte(content), 0644); err != nil {
		t.Fatalf("writeLog: %v", err)
	}
}

func TestListSkipsMalformedAndEmptyLogs(t *testing.T) {
	dir := t.TempDir()

	writeLog(t, dir, "good", []string{
		`{"type":"user","uuid":"u1","parentUuid":"","sessionId":"good","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello there"}}`,
		`{"type":"assistant","uuid":"u2","parentUuid":"u1","sessionId":"good","timestamp":"2024-01-01T00:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`,
	})

	// Malformed log: no line parses, so no title is recoverable.
	writeLog(t, dir, "bad", []string{`not json at all {{{`})

	// Empty log: list() must skip, loadMessages must report NotFound.
	os.WriteFile(filepath.Join(dir, "empty.log"), nil, 0644)

	s := NewStore(dir)
	previews, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(previews) != 1 || previews[0].ID != "good" {
		t.Fatalf("expected only 'good' session listed, got %+v", previews)
	}
	if previews[0].Name != "hello there" {
		t.Fatalf("expected title 'hello there', got %q", previews[0].Name)
	}

	if _, err := s.LoadMessages("empty"); err == nil {
		t.Fatal("expected NotFound for empty session")
	}
}

func TestLoadMessagesSkipsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "s1", []string{
		`{"type":"user","uuid":"u1","parentUuid":"","sessionId":"s1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"first"}}`,
		`not json at all {{{`,
		`{"type":"assistant","uuid":"u2","parentUuid":"u1","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"second"}]}}`,
	})

	s := NewStore(dir)
	msgs, err := s.LoadMessages("s1")
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (malformed line skipped), got %d", len(msgs))
	}
	if msgs[0].Text() != "first" || msgs[1].Text() != "second" {
		t.Fatalf("unexpected message contents: %+v", msgs)
	}
}

func TestForkPreservesPathAndRewritesSessionID(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "orig", []string{
		`{"type":"user","uuid":"u1","parentUuid":"","sessionId":"orig","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"q1"},"extraField":"kept"}`,
		`{"type":"assistant","uuid":"u2","parentUuid":"u1","sessionId":"orig","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"a1"}]}}`,
	})

	s := NewStore(dir)
	newID, err := s.Fork("orig", "u2")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if newID == "" || newID == "orig" {
		t.Fatalf("expected a fresh session id, got %q", newID)
	}

	origPath, err := s.LoadPath("orig", "u2")
	if err != nil {
		t.Fatalf("LoadPath(orig): %v", err)
	}
	forkedPath, err := s.LoadPath(newID, "u2")
	if err != nil {
		t.Fatalf("LoadPath(forked): %v", err)
	}

	if len(origPath) != len(forkedPath) {
		t.Fatalf("forked path length mismatch: %d vs %d", len(origPath), len(forkedPath))
	}
	for i := range origPath {
		if origPath[i].UUID != forkedPath[i].UUID {
			t.Fatalf("entry %d uuid mismatch: %s vs %s", i, origPath[i].UUID, forkedPath[i].UUID)
		}
		if forkedPath[i].SessionID != newID {
			t.Fatalf("entry %d sessionId not rewritten: %s", i, forkedPath[i].SessionID)
		}
	}
	if forkedPath[0].Extra["extraField"] == nil {
		t.Fatal("expected unknown field 'extraField' preserved verbatim on fork")
	}

	// Original file must be untouched.
	orig2, err := s.LoadPath("orig", "u2")
	if err != nil {
		t.Fatalf("LoadPath(orig) after fork: %v", err)
	}
	if orig2[0].SessionID != "orig" {
		t.Fatal("fork must not mutate the original session file")
	}
}

func TestForkTwiceProducesIndependentSessions(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "orig", []string{
		`{"type":"user","uuid":"u1","parentUuid":"","sessionId":"orig","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"q1"}}`,
	})

	s := NewStore(dir)
	id1, err := s.Fork("orig", "u1")
	if err != nil {
		t.Fatalf("Fork #1: %v", err)
	}
	id2, err := s.Fork("orig", "u1")
	if err != nil {
		t.Fatalf("Fork #2: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected two independent fork session ids")
	}
}
