package relay

import (
	"fmt"
	"log/slog"
	"net/http"

	"reduck/pkg/agentbridge"
	"reduck/pkg/converser"
)

// converseRequest is the request body for POST /api/converse (§6).
type converseRequest struct {
	Instruction    string `json:"instruction"`
	SessionID      string `json:"session_id"`
	LeafUUID       string `json:"leaf_uuid"`
	Model          string `json:"model"`
	SystemPrompt   string `json:"system_prompt"`
	PermissionMode string `json:"permission_mode"`
}

// handleConverse implements the §4.3/§6 converse flow: an optional fork,
// then a Server-Sent-Events stream of Agent Bridge chunks translated into
// the wire protocol. The terminal {done:true,...} event is emitted exactly
// once whether the bridge succeeds or errors; a canceled request ends the
// stream without one.
func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	var req converseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	_, _, chunks, err := s.Converser.Converse(r.Context(), converser.Request{
		Instruction:    req.Instruction,
		SessionID:      req.SessionID,
		LeafUUID:       req.LeafUUID,
		Model:          req.Model,
		SystemPrompt:   req.SystemPrompt,
		PermissionMode: agentbridge.PermissionMode(req.PermissionMode),
	})
	if err != nil {
		writeDoneError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx/reverse-proxy response buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		event, err := encodeChunk(chunk)
		if err != nil {
			slog.Error("relay: failed to encode chunk", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", event); err != nil {
			return // client disconnected; subprocess teardown follows ctx cancellation.
		}
		flusher.Flush()
	}
}

// encodeChunk implements the {text}/{block}/{done,...} wire shapes of §6.
func encodeChunk(c agentbridge.Chunk) ([]byte, error) {
	switch c.Kind {
	case agentbridge.ChunkTextDelta:
		return json.Marshal(map[string]string{"text": c.Text})
	case agentbridge.ChunkBlock:
		return json.Marshal(map[string]any{"block": c.Block})
	case agentbridge.ChunkResult:
		payload := map[string]any{"done": true, "session_id": c.Result.SessionID}
		if c.Result.CostUSD != nil {
			payload["cost_usd"] = *c.Result.CostUSD
		}
		payload["duration_ms"] = c.Result.DurationMs
		if c.Result.Error != "" {
			payload["error"] = c.Result.Error
		}
		return json.Marshal(payload)
	default:
		return json.Marshal(map[string]any{})
	}
}

// writeDoneError emits the single terminal failure event for errors that
// occur before or instead of a streamed bridge run (§4.3 rule 4).
func writeDoneError(w http.ResponseWriter, err error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	payload, _ := json.Marshal(map[string]any{"done": true, "error": err.Error()})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
