package sigstore

import "testing"

func TestAddHasClear(t *testing.T) {
	s := New(10)
	if s.Has("s1") {
		t.Fatal("empty store should not have s1")
	}
	s.Add("s1")
	if !s.Has("s1") {
		t.Fatal("expected s1 present after add")
	}
	if s.Size() != 1 {
		t.Fatalf("size = %d, want 1", s.Size())
	}
	s.Clear()
	if s.Size() != 0 || s.Has("s1") {
		t.Fatal("expected empty store after clear")
	}
}

func TestEmptyInputIgnored(t *testing.T) {
	s := New(10)
	s.Add("")
	if s.Size() != 0 {
		t.Fatalf("size = %d, want 0 after adding empty string", s.Size())
	}
	if s.Has("") {
		t.Fatal("empty string must never be considered present")
	}
}

func TestCapacityEvictsLeastRecentlyTouched(t *testing.T) {
	s := New(3)
	s.Add("a")
	s.Add("b")
	s.Add("c")
	// touch "a" so it becomes most-recent, leaving "b" as least-recent
	s.Has("a")
	s.Add("d") // must evict "b"

	if s.Size() != 3 {
		t.Fatalf("size = %d, want 3", s.Size())
	}
	if s.Has("b") {
		t.Fatal("expected b evicted (least recently touched)")
	}
	for _, want := range []string{"a", "c", "d"} {
		if !s.Has(want) {
			t.Fatalf("expected %q retained", want)
		}
	}
}

func TestDuplicateAddPromotes(t *testing.T) {
	s := New(2)
	s.Add("a")
	s.Add("b")
	s.Add("a") // re-add promotes "a", leaving "b" least-recent
	s.Add("c") // evicts "b"
	if s.Has("b") {
		t.Fatal("expected b evicted after being displaced by a re-add promotion")
	}
	if !s.Has("a") || !s.Has("c") {
		t.Fatal("expected a and c retained")
	}
}

func TestOutOfRangeCapacityDefaultsTo1000(t *testing.T) {
	for _, cap := range []int{0, -1, 100001} {
		s := New(cap)
		for i := 0; i < 1000; i++ {
			s.Add(string(rune(i)))
		}
		if s.Size() != 1000 {
			t.Fatalf("capacity %d: size = %d, want 1000 (default capacity)", cap, s.Size())
		}
	}
}

func TestGetAllOrderMostRecentFirst(t *testing.T) {
	s := New(5)
	s.Add("a")
	s.Add("b")
	s.Add("c")
	got := s.GetAll()
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("GetAll()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
