package agentbridge

import (
	"fmt"
	"log/slog"
	"strings"

	"reduck/pkg/convo"
	"reduck/pkg/errs"
)

// envelope is the minimal shape needed to route a stream-json line to its
// specific decoder before any of its nested fields are touched.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// streamEventWire mirrors the "stream_event" partial-delta wrapper emitted
// while an assistant message is still being generated.
type streamEventWire struct {
	Event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
}

// fullMessageWire mirrors a complete "assistant" or "user" event, whose
// message.content is always an array of content blocks.
type fullMessageWire struct {
	Message struct {
		Role    string               `json:"role"`
		Content []convo.ContentBlock `json:"content"`
	} `json:"message"`
}

// resultWire mirrors the terminal "result" event.
type resultWire struct {
	IsError      bool     `json:"is_error"`
	DurationMS   int64    `json:"duration_ms"`
	SessionID    string   `json:"session_id"`
	Result       string   `json:"result"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	Errors       []string `json:"errors,omitempty"`
}

// normalizeLine decodes one NDJSON line from the subprocess and produces
// zero or more Chunks, per the translation rules: partial assistant deltas
// become TextDelta, full assistant/user messages contribute BlockChunks for
// tool_use/tool_result blocks, a terminal result becomes the final Result
// chunk. done reports whether this line ends the stream.
func normalizeLine(line []byte) (chunks []Chunk, done bool) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		logMalformed(line, err)
		return nil, false
	}

	switch env.Type {
	case "stream_event":
		var se streamEventWire
		if err := json.Unmarshal(line, &se); err != nil {
			logMalformed(line, err)
			return nil, false
		}
		if se.Event.Type == "content_block_delta" && se.Event.Delta.Text != "" {
			chunks = append(chunks, Chunk{Kind: ChunkTextDelta, Text: se.Event.Delta.Text})
		}
		return chunks, false

	case "assistant":
		var fm fullMessageWire
		if err := json.Unmarshal(line, &fm); err != nil {
			logMalformed(line, err)
			return nil, false
		}
		for i := range fm.Message.Content {
			b := fm.Message.Content[i]
			if b.Type == convo.BlockToolUse {
				chunks = append(chunks, Chunk{Kind: ChunkBlock, Block: &b})
			}
		}
		return chunks, false

	case "user":
		var fm fullMessageWire
		if err := json.Unmarshal(line, &fm); err != nil {
			logMalformed(line, err)
			return nil, false
		}
		for i := range fm.Message.Content {
			b := fm.Message.Content[i]
			if b.Type == convo.BlockToolResult {
				chunks = append(chunks, Chunk{Kind: ChunkBlock, Block: &b})
			}
		}
		return chunks, false

	case "result":
		var rw resultWire
		if err := json.Unmarshal(line, &rw); err != nil {
			logMalformed(line, err)
			return nil, false
		}
		res := &Result{
			SessionID:  rw.SessionID,
			DurationMs: rw.DurationMS,
		}
		if rw.TotalCostUSD != 0 {
			cost := rw.TotalCostUSD
			res.CostUSD = &cost
		}
		if rw.IsError {
			if len(rw.Errors) > 0 {
				res.Error = strings.Join(rw.Errors, "; ")
			} else {
				res.Error = rw.Result
			}
		}
		return []Chunk{{Kind: ChunkResult, Result: res}}, true

	default:
		// system, progress, tool_use_summary, auth_status, hook_*,
		// control_*, keep_alive and any future event type: ignored per
		// contract, the bridge only surfaces text, tool blocks and result.
		return nil, false
	}
}

// logMalformed records a line the bridge could not parse at debug severity
// and drops it; per contract the stream itself is never interrupted by one
// bad line.
func logMalformed(line []byte, cause error) {
	slog.Debug("agentbridge: dropping malformed stream-json line",
		"error", fmt.Errorf("%w: %v", errs.MalformedEntry, cause), "line", string(line))
}
