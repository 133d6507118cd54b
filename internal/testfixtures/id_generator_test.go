package testfixtures

import (
	"sync"
	"testing"
)

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("session")

	first := gen.Next()
	second := gen.Next()

	if first != "session-1" || second != "session-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if issued := gen.Issued(); len(issued) != 2 {
		t.Fatalf("expected 2 issued identifiers, got %v", issued)
	}
}

func TestIDGeneratorReset(t *testing.T) {
	gen := NewIDGenerator("")
	_ = gen.Next()
	gen.Reset("loc")

	if next := gen.Next(); next != "loc-1" {
		t.Fatalf("expected loc-1 after reset, got %q", next)
	}
}

func TestIDGeneratorIsUniqueUnderConcurrency(t *testing.T) {
	gen := NewIDGenerator("c")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				gen.Next()
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for _, id := range gen.Issued() {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate identifier %q", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != 400 {
		t.Fatalf("expected 400 identifiers, got %d", len(seen))
	}
}
