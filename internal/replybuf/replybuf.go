// Package replybuf implements the Reply Buffer: a bounded collection of
// raw reply strings accumulated from slaves for the current tail command,
// reset each time a new command is appended to the Command Log.
package replybuf

// Buffer holds up to capacity raw slave replies for the command currently
// at the tail of the Command Log. Like coordlog.Log, it is not internally
// synchronized; callers must hold the coordination mutex.
type Buffer struct {
	replies []string
	count   int
}

// New creates a Buffer preallocated for up to capacity replies (normally
// max_slaves).
func New(capacity int) *Buffer {
	return &Buffer{replies: make([]string, capacity)}
}

// Reset discards all accumulated replies without shrinking the
// preallocated backing array.
func (b *Buffer) Reset() {
	b.count = 0
}

// Append records one slave's reply. If the buffer is already full — more
// replies arrived than the buffer was sized for, which should not happen
// since replies are bounded by the active-slave count — the reply is
// silently dropped rather than growing the buffer.
func (b *Buffer) Append(reply string) bool {
	if b.count >= len(b.replies) {
		return false
	}
	b.replies[b.count] = reply
	b.count++
	return true
}

// Count reports how many replies are currently accumulated.
func (b *Buffer) Count() int {
	return b.count
}

// Snapshot returns a copy of the accumulated replies, safe to read after
// the caller releases the coordination mutex.
func (b *Buffer) Snapshot() []string {
	out := make([]string, b.count)
	copy(out, b.replies[:b.count])
	return out
}
