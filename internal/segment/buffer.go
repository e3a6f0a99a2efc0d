package segment

// Buffer accumulates raw PCM fragments for one speaker between utterance
// boundaries. Fragments are kept in arrival order and copied on append.
//
// A Buffer is owned by exactly one speaker goroutine and is not safe for
// concurrent use.
type Buffer struct {
	SpeakerID   string
	DisplayName string

	fragments [][]byte
	size      int
}

// NewBuffer returns an empty buffer for speakerID.
func NewBuffer(speakerID, displayName string) *Buffer {
	return &Buffer{SpeakerID: speakerID, DisplayName: displayName}
}

// Append adds a copy of frag. Empty fragments are ignored.
func (b *Buffer) Append(frag []byte) {
	if len(frag) == 0 {
		return
	}
	c := make([]byte, len(frag))
	copy(c, frag)
	b.fragments = append(b.fragments, c)
	b.size += len(c)
}

// Size returns the accumulated byte count.
func (b *Buffer) Size() int { return b.size }

// Fragments returns the number of fragments held.
func (b *Buffer) Fragments() int { return len(b.fragments) }

// Empty reports whether no audio is buffered.
func (b *Buffer) Empty() bool { return b.size == 0 }

// Drain concatenates all fragments into one contiguous block and clears the
// buffer. Returns nil when empty.
func (b *Buffer) Drain() []byte {
	if b.size == 0 {
		b.Reset()
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, f := range b.fragments {
		out = append(out, f...)
	}
	b.Reset()
	return out
}

// Reset discards all fragments.
func (b *Buffer) Reset() {
	clear(b.fragments)
	b.fragments = b.fragments[:0]
	b.size = 0
}
