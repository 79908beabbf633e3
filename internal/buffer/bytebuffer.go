package buffer

// MaxWindowLen is the read window's shrink threshold (spec.md §4.D step 7):
// once a handle may shrink its window and the buffer's length exceeds this
// size, the window drops the bytes before the end of the latest read.
const MaxWindowLen = 300 * 1024

// ByteBuffer is a growable byte region: a contiguous slice `p`, a logical
// length `len` distinct from its allocated capacity, and a `BeginOffset`
// meaningful only when the buffer backs a read window (the absolute file
// offset corresponding to p[0]). Callers provide their own synchronization;
// ByteBuffer has none of its own.
type ByteBuffer struct {
	p           []byte
	len         int
	BeginOffset int64
}

// New returns an empty ByteBuffer with no allocation.
func New() *ByteBuffer {
	return &ByteBuffer{}
}

// Len returns the buffer's current logical length.
func (b *ByteBuffer) Len() int { return b.len }

// Cap returns the buffer's allocated capacity.
func (b *ByteBuffer) Cap() int { return cap(b.p) }

// Bytes returns the buffer's logical content. The slice aliases internal
// storage and is invalidated by the next AddMem, Clear, or Shrink call.
func (b *ByteBuffer) Bytes() []byte { return b.p[:b.len] }

// AddMem appends data, growing the backing array geometrically when
// needed.
func (b *ByteBuffer) AddMem(data []byte) {
	needed := b.len + len(data)
	b.ensureCap(needed)
	copy(b.p[b.len:needed], data)
	b.len = needed
}

// ensureCap grows the backing array, preserving content, so it holds at
// least needed bytes. Invariant maintained: len(b.p) == cap(b.p) always, so
// b.p is addressable up to its full capacity between calls.
func (b *ByteBuffer) ensureCap(needed int) {
	if needed <= cap(b.p) {
		return
	}
	newCap := growCap(cap(b.p), needed)
	grown := GetBuffer(newCap)
	copy(grown, b.p[:b.len])
	if b.p != nil {
		PutBuffer(b.p)
	}
	b.p = grown
}

// growCap doubles capacity until it accommodates needed, starting from a
// reasonable minimum for a fresh window.
func growCap(current, needed int) int {
	if current == 0 {
		current = 4096
	}
	for current < needed {
		current *= 2
	}
	return current
}

// Clear resets the logical length to zero, retaining the allocated
// capacity. BeginOffset is left for the caller to reset.
func (b *ByteBuffer) Clear() {
	b.len = 0
}

// NullTerminate ensures one trailing NUL byte exists past the logical
// length, without incrementing len — callers that hand the buffer to C-style
// string consumers rely on this.
func (b *ByteBuffer) NullTerminate() {
	b.ensureCap(b.len + 1)
	b.p[b.len] = 0
}

// Free releases the backing array to the shared pool. The buffer must not
// be used afterward.
func (b *ByteBuffer) Free() {
	if b.p != nil {
		PutBuffer(b.p)
		b.p = nil
	}
	b.len = 0
}

// Shrink slides the buffer's content left by n bytes and advances
// BeginOffset by the same amount, implementing the read window's shrink
// policy (spec.md §4.D step 7).
func (b *ByteBuffer) Shrink(n int) {
	if n <= 0 || n > b.len {
		return
	}
	copy(b.p[:b.len-n], b.p[n:b.len])
	b.len -= n
	b.BeginOffset += int64(n)
}
