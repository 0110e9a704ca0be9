package feedback

import (
	"reflect"
	"testing"
)

func TestPushNewestFirst(t *testing.T) {
	var b Buffer
	b.Push("a")
	b.Push("b")
	b.Push("c")

	want := []string{"c", "b", "a"}
	if got := b.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("Entries() = %v, want %v", got, want)
	}
}

func TestPushTruncatesAtCapacity(t *testing.T) {
	var b Buffer
	for i := 0; i < Capacity+3; i++ {
		b.Push(string(rune('a' + i)))
	}
	if got := len(b.Entries()); got != Capacity {
		t.Fatalf("len(Entries()) = %d, want %d", got, Capacity)
	}
	want := []string{"h", "g", "f", "e", "d"}
	if got := b.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("Entries() = %v, want %v", got, want)
	}
}

func TestResetEmpties(t *testing.T) {
	var b Buffer
	b.Push("a")
	b.Reset()
	if got := b.Entries(); len(got) != 0 {
		t.Errorf("Entries() after Reset = %v, want empty", got)
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	var b Buffer
	b.Push("a")
	entries := b.Entries()
	entries[0] = "mutated"
	if got := b.Entries()[0]; got != "a" {
		t.Errorf("internal buffer mutated via returned slice: got %q", got)
	}
}
