// Package convo implements the Conversation Store: parsing append-only
// conversation logs, walking the UUID-linked tree they encode, producing
// list/preview output, and forking a branch into a new log file.
package convo

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Block type tags, matching the ContentBlock tagged-variant model.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// ContentBlock is the tagged-variant content unit every assistant message is
// a sequence of, and that user tool-result echoes are also expressed in.
// Block identity is ID for tool_use; a tool_result cross-references that ID
// via ToolUseID.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input jsoniter.RawMessage `json:"input,omitempty"`

	// tool_result: Content is either a string or a list of objects, kept raw
	// so it round-trips exactly regardless of which shape the source used.
	ToolUseID string              `json:"tool_use_id,omitempty"`
	Content   jsoniter.RawMessage `json:"content,omitempty"`
	IsError   bool                `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource describes an image content block's payload: either inline
// base64 data with its media type, or a URL reference.
type ImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// NewTextBlock builds a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewThinkingBlock builds a thinking content block, optionally signed.
func NewThinkingBlock(text, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Text: text, Signature: signature}
}

// NewToolUseBlock builds a tool_use content block.
func NewToolUseBlock(id, name string, input jsoniter.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// NewToolResultBlock builds a tool_result content block referencing the
// tool_use it answers.
func NewToolResultBlock(toolUseID string, content jsoniter.RawMessage, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Preview renders the bracketed preview tag spec.md's preview rule uses for
// non-text blocks, or up to 60 chars of text for text blocks.
func (b ContentBlock) Preview() string {
	switch b.Type {
	case BlockText:
		t := b.Text
		if len(t) > 60 {
			t = t[:60]
		}
		return t
	case BlockThinking:
		return "[think]"
	case BlockToolUse:
		return fmt.Sprintf("[tool:%s]", b.Name)
	case BlockToolResult:
		return "[result]"
	case BlockImage:
		return "[image]"
	default:
		return ""
	}
}

// Message is {role, uuid?, content}. Assistant content is always a sequence
// of ContentBlocks. User content is either a raw string or a sequence of
// blocks (typically tool_results echoing prior tool_uses); exactly one of
// RawText/Blocks is populated, distinguished by HasBlocks.
type Message struct {
	Role      string
	UUID      string
	RawText   string
	Blocks    []ContentBlock
	HasBlocks bool
}

// NewUserText builds a plain-string user message.
func NewUserText(text string) Message {
	return Message{Role: "user", RawText: text}
}

// NewUserBlocks builds a user message carrying tool_result blocks.
func NewUserBlocks(blocks []ContentBlock) Message {
	return Message{Role: "user", Blocks: blocks, HasBlocks: true}
}

// NewAssistant builds an assistant message from content blocks.
func NewAssistant(blocks []ContentBlock) Message {
	return Message{Role: "assistant", Blocks: blocks, HasBlocks: true}
}

// Text concatenates every text block's content, or returns RawText.
func (m Message) Text() string {
	if !m.HasBlocks {
		return m.RawText
	}
	out := ""
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

type messageWire struct {
	Role    string          `json:"role"`
	UUID    string          `json:"uuid,omitempty"`
	Content jsoniter.RawMessage `json:"content"`
}

// MarshalJSON drops null-valued fields (per the round-trip invariant) and
// renders Content as a bare string when the message has no blocks.
func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{Role: m.Role, UUID: m.UUID}
	var err error
	if m.HasBlocks {
		blocks := m.Blocks
		if blocks == nil {
			blocks = []ContentBlock{}
		}
		w.Content, err = json.Marshal(blocks)
	} else {
		w.Content, err = json.Marshal(m.RawText)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts content as either a bare string or an array of
// content blocks.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.UUID = w.UUID

	trimmed := trimLeadingSpace(w.Content)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(w.Content, &s); err != nil {
			return err
		}
		m.RawText = s
		m.HasBlocks = false
		return nil
	}

	var blocks []ContentBlock
	if len(trimmed) > 0 {
		if err := json.Unmarshal(w.Content, &blocks); err != nil {
			return err
		}
	}
	m.Blocks = blocks
	m.HasBlocks = true
	return nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// EntryType names a Conversation Entry variant.
type EntryType string

const (
	EntryUser           EntryType = "user"
	EntryAssistant      EntryType = "assistant"
	EntrySystem         EntryType = "system"
	EntryProgress       EntryType = "progress"
	EntrySummary        EntryType = "summary"
	EntryCustomTitle    EntryType = "custom-title"
	EntryQueueOperation EntryType = "queue-operation"
)

// TreeVariants are the four entry types carrying uuid/parentUuid/sessionId
// and therefore participating in the conversation tree.
var TreeVariants = map[EntryType]bool{
	EntryUser:      true,
	EntryAssistant: true,
	EntrySystem:    true,
	EntryProgress:  true,
}

// Entry is a heterogeneous persisted record. Extra carries every field this
// package does not model explicitly, preserved verbatim so a fork can
// reproduce them byte-for-byte except for the deliberately rewritten
// sessionId.
type Entry struct {
	Type       EntryType
	UUID       string
	ParentUUID string
	SessionID  string
	Timestamp  time.Time

	Message *Message

	Operation string // queue-operation
	Title     string // custom-title

	Extra map[string]jsoniter.RawMessage

	// raw holds the exact source bytes this entry was parsed from, when
	// known. Fork uses it (via sjson) to rewrite only the sessionId field
	// in place rather than re-marshaling the whole record, so any field
	// ordering/formatting quirk of the original log survives untouched.
	raw []byte
}

// Raw returns the exact bytes this entry was parsed from, or nil if the
// entry was constructed programmatically.
func (e Entry) Raw() []byte { return e.raw }

// WithRaw returns a copy of e with its raw source bytes set.
func (e Entry) WithRaw(b []byte) Entry {
	e.raw = append([]byte(nil), b...)
	return e
}

// IsTreeNode reports whether this entry participates in the uuid/parentUuid
// tree (the four "tree variant" types).
func (e Entry) IsTreeNode() bool {
	return TreeVariants[e.Type]
}

// knownEntryFields lists the JSON keys this package interprets explicitly;
// everything else lands in Extra.
var knownEntryFields = map[string]bool{
	"type": true, "uuid": true, "parentUuid": true, "sessionId": true,
	"timestamp": true, "message": true, "operation": true, "title": true,
}

// UnmarshalJSON decodes one NDJSON log line into an Entry, retaining any
// field this package does not know about in Extra for verbatim fork
// round-tripping. Unknown top-level types are kept as a catch-all "other"
// entry (Type holds whatever string the source used) with Extra holding
// every field outside knownEntryFields.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if t, ok := raw["type"]; ok {
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			e.Type = EntryType(s)
		}
	}
	if v, ok := raw["uuid"]; ok {
		json.Unmarshal(v, &e.UUID)
	}
	if v, ok := raw["parentUuid"]; ok {
		json.Unmarshal(v, &e.ParentUUID)
	}
	if v, ok := raw["sessionId"]; ok {
		json.Unmarshal(v, &e.SessionID)
	}
	if v, ok := raw["timestamp"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				e.Timestamp = t
			}
		}
	}
	if v, ok := raw["operation"]; ok {
		json.Unmarshal(v, &e.Operation)
	}
	if v, ok := raw["title"]; ok {
		json.Unmarshal(v, &e.Title)
	}
	if v, ok := raw["message"]; ok {
		var m Message
		if err := json.Unmarshal(v, &m); err == nil {
			e.Message = &m
		}
	}

	e.Extra = make(map[string]jsoniter.RawMessage, len(raw))
	for k, v := range raw {
		if !knownEntryFields[k] {
			e.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON re-emits the entry, merging known fields with Extra. Known
// fields always win over a same-named Extra entry (defensive; Extra should
// never contain a known key since UnmarshalJSON excludes them).
func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["type"] = e.Type
	if e.UUID != "" {
		out["uuid"] = e.UUID
	}
	if e.ParentUUID != "" {
		out["parentUuid"] = e.ParentUUID
	}
	if e.SessionID != "" {
		out["sessionId"] = e.SessionID
	}
	if !e.Timestamp.IsZero() {
		out["timestamp"] = e.Timestamp.Format(time.RFC3339)
	}
	if e.Operation != "" {
		out["operation"] = e.Operation
	}
	if e.Title != "" {
		out["title"] = e.Title
	}
	if e.Message != nil {
		out["message"] = e.Message
	}
	return json.Marshal(out)
}

// WithSessionID returns a copy of the entry with SessionID rewritten,
// leaving every other field (including Extra) untouched. Used by Fork.
func (e Entry) WithSessionID(id string) Entry {
	e.SessionID = id
	return e
}
