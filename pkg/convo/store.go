package convo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reduck/pkg/errs"
)

// Store implements the Conversation Store operations (spec §4.1) over a
// single project directory of <uuid>.log files. Conversation log files are
// created by the agent or by Fork; this store never rewrites an existing
// file.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir (a single <configRoot>/projects/<slug>
// directory).
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) logPath(sessionID string) string {
	return filepath.Join(s.Dir, sessionID+".log")
}

// List returns every session's preview, ordered by descending last-timestamp.
// A file the tail scan cannot recover a title from is skipped; list() never
// fails on one bad file.
func (s *Store) List() ([]Preview, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var previews []Preview
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".log") {
			continue
		}
		id := strings.TrimSuffix(de.Name(), ".log")
		p, ok := tailPreview(filepath.Join(s.Dir, de.Name()))
		if !ok {
			continue
		}
		p.ID = id
		previews = append(previews, p)
	}

	sort.Slice(previews, func(i, j int) bool {
		return previews[i].UpdatedAt.After(previews[j].UpdatedAt)
	})
	return previews, nil
}

// LoadPath returns the root→leaf entry sequence for a session. If leafUUID
// is empty the active leaf (greatest depth) is used.
func (s *Store) LoadPath(sessionID, leafUUID string) ([]Entry, error) {
	path := s.logPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("convo: session %q: %w", sessionID, errs.NotFound)
	}

	entries, err := ParseLog(path)
	if err != nil {
		return nil, err
	}

	tree := NewTree(entries)

	leaf := leafUUID
	if leaf == "" {
		active, ok := ActiveLeaf(tree)
		if !ok {
			return nil, fmt.Errorf("convo: session %q has no leaves: %w", sessionID, errs.NotFound)
		}
		leaf = active
	} else if _, ok := tree.Get(leaf); !ok {
		return nil, fmt.Errorf("convo: leaf %q: %w", leaf, errs.NotFound)
	}

	leafToRoot, err := WalkPath(tree, leaf)
	if err != nil {
		return nil, err
	}

	rootToLeaf := make([]Entry, len(leafToRoot))
	for i, e := range leafToRoot {
		rootToLeaf[len(leafToRoot)-1-i] = e
	}
	return rootToLeaf, nil
}

// LoadMessages returns the active path filtered to user/assistant entries,
// used to populate chat history.
func (s *Store) LoadMessages(sessionID string) ([]Message, error) {
	path, err := s.LoadPath(sessionID, "")
	if err != nil {
		return nil, err
	}
	return filterMessages(path), nil
}

func filterMessages(path []Entry) []Message {
	var out []Message
	for _, e := range path {
		if (e.Type == EntryUser || e.Type == EntryAssistant) && e.Message != nil {
			out = append(out, *e.Message)
		}
	}
	return out
}

// Leaf describes one tree leaf for the /leaves listing.
type Leaf struct {
	UUID     string
	Type     EntryType
	Depth    int
	Preview  string
	IsActive bool
}

// Leaves returns every leaf of a session's tree, sorted by descending depth.
func (s *Store) Leaves(sessionID string) ([]Leaf, error) {
	path := s.logPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("convo: session %q: %w", sessionID, errs.NotFound)
	}
	entries, err := ParseLog(path)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		return nil, fmt.Errorf("convo: session %q: %w", sessionID, errs.NotFound)
	}

	tree := NewTree(entries)
	active, _ := ActiveLeaf(tree)

	var leaves []Leaf
	for _, uuid := range tree.Leaves() {
		e, _ := tree.Get(uuid)
		leaves = append(leaves, Leaf{
			UUID:     uuid,
			Type:     e.Type,
			Depth:    Depth(tree, uuid),
			Preview:  pathPreview(tree, uuid),
			IsActive: uuid == active,
		})
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Depth > leaves[j].Depth })
	return leaves, nil
}

// pathPreview builds the first-100-char preview for a leaf/path per the
// preview rule: text blocks contribute up to 60 chars, others a bracketed
// tag.
func pathPreview(t *Tree, leaf string) string {
	path, err := WalkPath(t, leaf)
	if err != nil || len(path) == 0 {
		return ""
	}
	// Preview is built from the leaf entry's own message content.
	e := path[0]
	if e.Message == nil {
		return ""
	}
	var out string
	if !e.Message.HasBlocks {
		out = e.Message.RawText
	} else {
		for _, b := range e.Message.Blocks {
			out += b.Preview()
		}
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
