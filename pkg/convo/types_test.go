package convo

import "testing"

func TestContentBlockRoundTrip(t *testing.T) {
	blocks := []ContentBlock{
		NewTextBlock("hello"),
		NewThinkingBlock("pondering", "sig-1"),
		NewToolUseBlock("t1", "write_file", []byte(`{"path":"a.txt"}`)),
		NewToolResultBlock("t1", []byte(`"ok"`), false),
	}

	for _, b := range blocks {
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got ContentBlock
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != b.Type {
			t.Fatalf("type mismatch: %q vs %q", got.Type, b.Type)
		}
	}
}

func TestMessageRawStringRoundTrip(t *testing.T) {
	m := NewUserText("what time is it")
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.HasBlocks {
		t.Fatal("expected raw-text message to decode without blocks")
	}
	if got.Text() != "what time is it" {
		t.Fatalf("text mismatch: %q", got.Text())
	}
}

func TestMessageBlocksRoundTrip(t *testing.T) {
	m := NewAssistant([]ContentBlock{NewTextBlock("hi"), NewTextBlock(" there")})
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.HasBlocks {
		t.Fatal("expected block message to decode with blocks")
	}
	if got.Text() != "hi there" {
		t.Fatalf("text mismatch: %q", got.Text())
	}
}

func TestToolResultCrossReferencesToolUse(t *testing.T) {
	use := NewToolUseBlock("call-1", "read_file", []byte(`{"path":"x"}`))
	result := NewToolResultBlock("call-1", []byte(`"contents"`), false)

	if result.ToolUseID != use.ID {
		t.Fatalf("tool_result does not cross-reference tool_use id: %q vs %q", result.ToolUseID, use.ID)
	}
}
