package convo

import (
	"bytes"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

const (
	tailStartSize = 32 * 1024
	tailMaxSize   = 256 * 1024
	titleMaxChars = 200
	summaryMaxChars = 300
)

// Preview is the list()-operation result item.
type Preview struct {
	ID        string
	Name      string
	Summary   string
	UpdatedAt time.Time
}

// tailPreview reads a log's tail with a doubling window (32 KiB, 64, 128,
// 256) and extracts the first recoverable user text (title) and first
// assistant text (summary) using gjson field-extraction instead of a full
// per-line unmarshal, since list() must not pay full-parse cost for every
// session on every request. ok is false when no user entry was recoverable
// within the 256 KiB cap.
func tailPreview(path string) (p Preview, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return Preview{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return Preview{}, false
	}
	size := info.Size()

	window := int64(tailStartSize)
	for {
		readSize := window
		if readSize > size {
			readSize = size
		}

		buf := make([]byte, readSize)
		if _, err := f.ReadAt(buf, size-readSize); err != nil {
			return Preview{}, false
		}

		title, summary, updatedAt, found := scanTailLines(buf, readSize == size)
		if found {
			if len(title) > titleMaxChars {
				title = title[:titleMaxChars]
			}
			if len(summary) > summaryMaxChars {
				summary = summary[:summaryMaxChars]
			}
			return Preview{Name: title, Summary: summary, UpdatedAt: updatedAt}, true
		}

		if readSize == size || window >= tailMaxSize {
			return Preview{}, false
		}
		window *= 2
		if window > tailMaxSize {
			window = tailMaxSize
		}
	}
}

// scanTailLines walks the lines in a tail chunk, discarding a leading
// partial line (unless the chunk covers the whole file, in which case there
// is no partial prefix to discard), and returns the first user text, first
// assistant text, and the timestamp of the last well-formed entry seen.
func scanTailLines(buf []byte, wholeFile bool) (title, summary string, updatedAt time.Time, found bool) {
	lines := bytes.Split(buf, []byte("\n"))
	if !wholeFile && len(lines) > 0 {
		lines = lines[1:] // drop the partial first line
	}

	var sawUser bool
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}

		typ := gjson.GetBytes(line, "type").String()
		if ts := gjson.GetBytes(line, "timestamp"); ts.Exists() {
			if t, err := time.Parse(time.RFC3339, ts.String()); err == nil {
				updatedAt = t
			}
		}

		switch typ {
		case string(EntryUser):
			if !sawUser {
				if t := extractMessageText(line); t != "" {
					title = t
					sawUser = true
				}
			}
		case string(EntryAssistant):
			if summary == "" {
				if t := extractMessageText(line); t != "" {
					summary = t
				}
			}
		}
	}

	return title, summary, updatedAt, sawUser
}

// extractMessageText pulls plain text out of a message.content field that
// is either a bare string or an array of content blocks, via gjson so the
// preview path never pays for a full Entry unmarshal.
func extractMessageText(line []byte) string {
	content := gjson.GetBytes(line, "message.content")
	if !content.Exists() {
		return ""
	}
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var out string
		for _, block := range content.Array() {
			if block.Get("type").String() == BlockText {
				out += block.Get("text").String()
			}
		}
		return out
	}
	return ""
}
