package common

import "testing"

func TestNewULID_UniqueAndOrdered(t *testing.T) {
	prev := ""
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := NewULID()
		if err != nil {
			t.Fatalf("new ulid: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("unexpected ulid length %d", len(id))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ulid %s", id)
		}
		seen[id] = struct{}{}
		if prev != "" && id <= prev {
			t.Fatalf("ulid not monotonic: %s <= %s", id, prev)
		}
		prev = id
	}
}
