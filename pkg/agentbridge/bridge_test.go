package agentbridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeFakeAgent drops an executable shell script standing in for the
// agent CLI, ignoring whatever args it's invoked with.
func writeFakeAgent(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

func drainChunks(t *testing.T, chunks <-chan Chunk) []Chunk {
	t.Helper()
	var got []Chunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-deadline:
			t.Fatal("timed out waiting for chunks")
			return got
		}
	}
}

func TestConverseSynthesizesResultWhenStdoutClosesCleanly(t *testing.T) {
	bin := writeFakeAgent(t, `echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}}'`)
	b := New(bin, "")

	chunks, err := b.Converse(context.Background(), "do it", Options{})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	got := drainChunks(t, chunks)
	if len(got) == 0 || got[len(got)-1].Kind != ChunkResult {
		t.Fatalf("expected a terminal Result chunk, got %+v", got)
	}
	last := got[len(got)-1]
	if last.Result.Error == "" || !strings.Contains(last.Result.Error, "subprocess crashed mid-stream") {
		t.Fatalf("expected synthesized crash-mid-stream error, got %+v", last.Result)
	}
}

func TestConverseSynthesizesResultOnNonZeroExit(t *testing.T) {
	bin := writeFakeAgent(t, `exit 1`)
	b := New(bin, "")

	chunks, err := b.Converse(context.Background(), "do it", Options{})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	got := drainChunks(t, chunks)
	if len(got) != 1 || got[0].Kind != ChunkResult {
		t.Fatalf("expected exactly one terminal Result chunk, got %+v", got)
	}
	if !strings.Contains(got[0].Result.Error, "subprocess crashed mid-stream") {
		t.Fatalf("expected crash-mid-stream error, got %q", got[0].Result.Error)
	}
}

func TestConverseDeliversResultWhenPresent(t *testing.T) {
	bin := writeFakeAgent(t, `echo '{"type":"result","subtype":"success","is_error":false,"duration_ms":10,"session_id":"s1"}'`)
	b := New(bin, "")

	chunks, err := b.Converse(context.Background(), "do it", Options{})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	got := drainChunks(t, chunks)
	if len(got) != 1 || got[0].Kind != ChunkResult || got[0].Result.Error != "" {
		t.Fatalf("expected one clean terminal Result chunk, got %+v", got)
	}
}

func TestConverseNoAgentBinaryConfigured(t *testing.T) {
	b := New("", "")
	if _, err := b.Converse(context.Background(), "do it", Options{}); err == nil {
		t.Fatal("expected error when no agent binary is configured")
	}
}
