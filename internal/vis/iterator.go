package vis

// Iterator delivers buffers in a fixed order and can be restarted. The
// gridder depends on that order: parallactic-angle change detection
// compares each buffer with the one before it.
type Iterator interface {
	// Reset rewinds to the first buffer.
	Reset()
	// Next returns the next buffer, or false when exhausted.
	Next() (*Buffer, bool)
}

// SliceIterator iterates over an in-memory list of buffers.
type SliceIterator struct {
	buffers []*Buffer
	pos     int
}

// NewSliceIterator returns an iterator over buffers.
func NewSliceIterator(buffers ...*Buffer) *SliceIterator {
	return &SliceIterator{buffers: buffers}
}

// Reset rewinds to the first buffer.
func (it *SliceIterator) Reset() { it.pos = 0 }

// Next returns the next buffer.
func (it *SliceIterator) Next() (*Buffer, bool) {
	if it.pos >= len(it.buffers) {
		return nil, false
	}
	b := it.buffers[it.pos]
	it.pos++
	return b, true
}

// Len returns the number of buffers.
func (it *SliceIterator) Len() int { return len(it.buffers) }
