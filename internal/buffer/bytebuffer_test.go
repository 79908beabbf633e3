package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsEmpty(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Cap())
	assert.Equal(t, int64(0), b.BeginOffset)
}

func TestAddMemAccumulates(t *testing.T) {
	b := New()
	b.AddMem([]byte("hello"))
	b.AddMem([]byte(" world"))

	assert.Equal(t, "hello world", string(b.Bytes()))
	assert.Equal(t, 11, b.Len())
}

func TestAddMemGrowsBackingArray(t *testing.T) {
	b := New()
	chunk := make([]byte, 5000)
	for i := range chunk {
		chunk[i] = byte(i % 251)
	}

	b.AddMem(chunk)
	assert.Equal(t, 5000, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 5000)
	assert.Equal(t, chunk, b.Bytes())

	b.AddMem(chunk)
	assert.Equal(t, 10000, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 10000)
	assert.Equal(t, chunk, b.Bytes()[5000:])
}

func TestClearRetainsCapacity(t *testing.T) {
	b := New()
	b.AddMem([]byte("some data"))
	cap1 := b.Cap()

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, cap1, b.Cap())

	b.AddMem([]byte("abc"))
	assert.Equal(t, "abc", string(b.Bytes()))
}

func TestNullTerminateDoesNotExtendLen(t *testing.T) {
	b := New()
	b.AddMem([]byte("abc"))

	b.NullTerminate()
	assert.Equal(t, 3, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 4)

	b.AddMem([]byte("d"))
	assert.Equal(t, "abcd", string(b.Bytes()))
}

func TestFreeResetsBuffer(t *testing.T) {
	b := New()
	b.AddMem([]byte("data"))

	b.Free()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Cap())
}

func TestShrinkSlidesContentAndAdvancesOffset(t *testing.T) {
	b := New()
	b.AddMem([]byte("0123456789"))
	b.BeginOffset = 100

	b.Shrink(4)

	assert.Equal(t, "456789", string(b.Bytes()))
	assert.Equal(t, int64(104), b.BeginOffset)
}

func TestShrinkIgnoresOutOfRangeAmounts(t *testing.T) {
	b := New()
	b.AddMem([]byte("abc"))

	b.Shrink(0)
	assert.Equal(t, "abc", string(b.Bytes()))

	b.Shrink(-1)
	assert.Equal(t, "abc", string(b.Bytes()))

	b.Shrink(100)
	assert.Equal(t, "abc", string(b.Bytes()))
}

func TestMaxWindowLenConstant(t *testing.T) {
	assert.Equal(t, 300*1024, MaxWindowLen)
}
