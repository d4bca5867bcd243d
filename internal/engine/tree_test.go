package engine_test

import (
	"testing"

	"github.com/dantte-lp/nat64stated/internal/engine"
)

func newIntIndex() *engine.OrderedIndex[int] {
	return engine.NewOrderedIndex(func(a, b int) bool { return a < b })
}

func TestOrderedIndexInsertUniqueAndFind(t *testing.T) {
	idx := newIntIndex()

	if _, ok := idx.InsertUnique(5); !ok {
		t.Fatal("expected first insert of 5 to succeed")
	}
	if existing, ok := idx.InsertUnique(5); ok {
		t.Fatal("expected second insert of 5 to report a collision")
	} else if existing != 5 {
		t.Errorf("collision value = %d, want 5", existing)
	}

	if got, ok := idx.Find(5); !ok || got != 5 {
		t.Errorf("Find(5) = (%d, %v), want (5, true)", got, ok)
	}
	if _, ok := idx.Find(6); ok {
		t.Error("Find(6) should report not found")
	}
}

func TestOrderedIndexEraseAndLen(t *testing.T) {
	idx := newIntIndex()
	idx.InsertUnique(1)
	idx.InsertUnique(2)

	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}
	if ok := idx.Erase(1); !ok {
		t.Fatal("expected Erase(1) to report the key was present")
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() after erase = %d, want 1", idx.Len())
	}
	if ok := idx.Erase(1); ok {
		t.Error("expected Erase(1) to report absent on second call")
	}
}

func TestOrderedIndexOrderedTraversal(t *testing.T) {
	idx := newIntIndex()
	for _, v := range []int{30, 10, 20, 5} {
		idx.InsertUnique(v)
	}

	first, ok := idx.First()
	if !ok || first != 5 {
		t.Fatalf("First() = (%d, %v), want (5, true)", first, ok)
	}

	cur, ok := first, true
	var walked []int
	for ok {
		walked = append(walked, cur)
		cur, ok = idx.NextStrictlyAfter(cur)
	}

	want := []int{5, 10, 20, 30}
	if len(walked) != len(want) {
		t.Fatalf("walked %v, want %v", walked, want)
	}
	for i := range want {
		if walked[i] != want[i] {
			t.Fatalf("walked %v, want %v", walked, want)
		}
	}
}

func TestOrderedIndexFirstGE(t *testing.T) {
	idx := newIntIndex()
	for _, v := range []int{10, 20, 30} {
		idx.InsertUnique(v)
	}

	if got, ok := idx.FirstGE(15); !ok || got != 20 {
		t.Errorf("FirstGE(15) = (%d, %v), want (20, true)", got, ok)
	}
	if got, ok := idx.FirstGE(20); !ok || got != 20 {
		t.Errorf("FirstGE(20) = (%d, %v), want (20, true)", got, ok)
	}
	if _, ok := idx.FirstGE(31); ok {
		t.Error("FirstGE(31) should report not found")
	}
}

func TestOrderedIndexClear(t *testing.T) {
	idx := newIntIndex()
	idx.InsertUnique(1)
	idx.InsertUnique(2)

	var disposed []int
	idx.Clear(func(v int) { disposed = append(disposed, v) })

	if idx.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", idx.Len())
	}
	if len(disposed) != 2 {
		t.Errorf("disposed %v, want 2 entries", disposed)
	}
}
