// Package feedback implements the bounded recent-feedback deque used by the
// practice matcher's live snapshot: at most 5 short strings, newest first.
package feedback

// Capacity is the maximum number of feedback strings retained.
const Capacity = 5

// Buffer is a fixed-capacity FIFO of feedback strings. The zero value is an
// empty, ready-to-use buffer.
type Buffer struct {
	entries []string
}

// Push adds msg as the newest entry, dropping the oldest entry if the
// buffer is already at Capacity.
func (b *Buffer) Push(msg string) {
	b.entries = append([]string{msg}, b.entries...)
	if len(b.entries) > Capacity {
		b.entries = b.entries[:Capacity]
	}
}

// Entries returns the buffered strings, newest first. The returned slice is
// a copy and safe for the caller to retain.
func (b *Buffer) Entries() []string {
	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.entries = nil
}
