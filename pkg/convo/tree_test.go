package convo

import "testing"

func entry(typ EntryType, uuid, parent string) Entry {
	return Entry{Type: typ, UUID: uuid, ParentUUID: parent}
}

func TestWalkPathTerminatesAndStartsAtLeaf(t *testing.T) {
	tree := NewTree([]Entry{
		entry(EntryUser, "u1", ""),
		entry(EntryAssistant, "u2", "u1"),
		entry(EntryUser, "u3", "u2"),
		entry(EntryAssistant, "u4", "u3"),
	})

	path, err := WalkPath(tree, "u4")
	if err != nil {
		t.Fatalf("WalkPath: %v", err)
	}
	if len(path) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(path))
	}
	if path[0].UUID != "u4" {
		t.Fatalf("expected leaf u4 at position 0, got %s", path[0].UUID)
	}

	seen := map[string]bool{}
	for _, e := range path {
		if seen[e.UUID] {
			t.Fatalf("uuid %s appeared twice in walk", e.UUID)
		}
		seen[e.UUID] = true
	}
}

func TestWalkPathDuplicateUUIDLastWins(t *testing.T) {
	tree := NewTree([]Entry{
		entry(EntryUser, "u1", ""),
		entry(EntryAssistant, "u2", "u1"),
		// u2 appended again later in the log with a different parent: last
		// occurrence must win when walking.
		entry(EntryAssistant, "u2", "u1-corrected"),
		entry(EntryUser, "u1-corrected", ""),
	})

	path, err := WalkPath(tree, "u2")
	if err != nil {
		t.Fatalf("WalkPath: %v", err)
	}
	if len(path) != 2 || path[1].UUID != "u1-corrected" {
		t.Fatalf("expected duplicate uuid to resolve to latest parent, got %+v", path)
	}
}

func TestWalkPathCycleTerminates(t *testing.T) {
	tree := NewTree([]Entry{
		entry(EntryUser, "a", "b"),
		entry(EntryAssistant, "b", "a"),
	})

	path, err := WalkPath(tree, "a")
	if err != nil {
		t.Fatalf("WalkPath: %v", err)
	}
	if len(path) != 2 {
		t.Fatalf("expected cycle to stop after 2 entries, got %d", len(path))
	}
}

func TestActiveLeafPicksGreatestDepth(t *testing.T) {
	tree := NewTree([]Entry{
		entry(EntryUser, "root", ""),
		entry(EntryAssistant, "shallow", "root"),
		entry(EntryUser, "deep1", "root"),
		entry(EntryAssistant, "deep2", "deep1"),
		entry(EntryUser, "deep3", "deep2"),
	})

	leaf, ok := ActiveLeaf(tree)
	if !ok {
		t.Fatal("expected an active leaf")
	}
	if leaf != "deep3" {
		t.Fatalf("expected deep3 as active leaf, got %s", leaf)
	}
}
