package convo

import (
	"fmt"

	"reduck/pkg/errs"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tree indexes a parsed log's tree-variant entries by uuid, and tracks each
// node's children in append order so that depth/leaf computations are
// deterministic even though the source log may list children interleaved
// with unrelated entries.
type Tree struct {
	nodes    map[string]Entry
	children *orderedmap.OrderedMap[string, []string]
	order    []string // uuids in the order of their first occurrence in the log
}

// NewTree builds a Tree from a flat, ordered slice of log entries. Per the
// duplicate-uuid invariant, the *last* occurrence of a given uuid wins.
func NewTree(entries []Entry) *Tree {
	t := &Tree{
		nodes:    make(map[string]Entry),
		children: orderedmap.New[string, []string](),
	}
	for _, e := range entries {
		if !e.IsTreeNode() || e.UUID == "" {
			continue
		}
		if _, existed := t.nodes[e.UUID]; !existed {
			t.order = append(t.order, e.UUID)
		}
		t.nodes[e.UUID] = e
	}
	for _, uuid := range t.order {
		e := t.nodes[uuid]
		if e.ParentUUID == "" {
			continue
		}
		kids, _ := t.children.Get(e.ParentUUID)
		t.children.Set(e.ParentUUID, append(kids, uuid))
	}
	return t
}

// Get returns the entry for a uuid and whether it exists.
func (t *Tree) Get(uuid string) (Entry, bool) {
	e, ok := t.nodes[uuid]
	return e, ok
}

// Leaves returns every node with no recorded children, in index order.
func (t *Tree) Leaves() []string {
	var leaves []string
	for _, uuid := range t.order {
		if kids, ok := t.children.Get(uuid); !ok || len(kids) == 0 {
			leaves = append(leaves, uuid)
		}
	}
	return leaves
}

// WalkPath starts at leaf and repeatedly follows parentUuid, using the last
// occurrence of each uuid, terminating on cycle detection (seen-set) or a
// missing parent. Returns entries leaf→root; callers reverse as needed.
func WalkPath(t *Tree, leaf string) ([]Entry, error) {
	var path []Entry
	seen := make(map[string]bool)

	cur := leaf
	for cur != "" {
		if seen[cur] {
			break // cycle: stop, keep whatever prefix we reached
		}
		seen[cur] = true

		e, ok := t.Get(cur)
		if !ok {
			if len(path) == 0 {
				return nil, fmt.Errorf("convo: uuid %q not found: %w", leaf, errs.NotFound)
			}
			break
		}
		path = append(path, e)
		cur = e.ParentUUID
	}
	return path, nil
}

// Depth returns the path length for a uuid: the number of entries from it
// up to its root, both included (a root has depth 1), using the same
// last-occurrence/cycle-safe walk as WalkPath.
func Depth(t *Tree, uuid string) int {
	path, err := WalkPath(t, uuid)
	if err != nil {
		return 0
	}
	return len(path)
}

// ActiveLeaf returns the leaf maximizing path depth to a root (tie-break:
// first one found, i.e. earliest in log-append order).
func ActiveLeaf(t *Tree) (string, bool) {
	leaves := t.Leaves()
	if len(leaves) == 0 {
		return "", false
	}
	best := leaves[0]
	bestDepth := Depth(t, best)
	for _, l := range leaves[1:] {
		d := Depth(t, l)
		if d > bestDepth {
			best, bestDepth = l, d
		}
	}
	return best, true
}
