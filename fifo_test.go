package esb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOCapacity(t *testing.T) {
	var f fifo[int]
	for i := range FIFOCapacity {
		require.NoError(t, f.push(i))
	}
	assert.True(t, f.full())
	require.ErrorIs(t, f.push(99), ErrNoMemory)

	for i := range FIFOCapacity {
		v, ok := f.pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := f.pop()
	assert.False(t, ok)
}

func TestFIFOWrapsAround(t *testing.T) {
	var f fifo[int]
	for round := range 3 {
		for i := range 5 {
			require.NoError(t, f.push(round*10+i))
		}
		for i := range 5 {
			v, ok := f.pop()
			require.True(t, ok)
			assert.Equal(t, round*10+i, v)
		}
	}
	assert.Zero(t, f.len())
}

func TestFIFOReplaceHead(t *testing.T) {
	var f fifo[string]
	assert.False(t, f.replaceHead("x"))

	require.NoError(t, f.push("a"))
	require.NoError(t, f.push("b"))
	assert.True(t, f.replaceHead("A"))

	v, ok := f.peek()
	require.True(t, ok)
	assert.Equal(t, "A", v)
	assert.Equal(t, 2, f.len())
}

func TestFIFOTake(t *testing.T) {
	var f fifo[int]
	// Start off zero so the ring wraps during take.
	for range 6 {
		require.NoError(t, f.push(0))
		f.pop()
	}
	for _, v := range []int{1, 2, 3, 4, 5} {
		require.NoError(t, f.push(v))
	}

	v, ok := f.take(func(v int) bool { return v%2 == 0 })
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = f.take(func(v int) bool { return v > 10 })
	assert.False(t, ok)

	var rest []int
	for {
		v, ok := f.pop()
		if !ok {
			break
		}
		rest = append(rest, v)
	}
	assert.Equal(t, []int{1, 3, 4, 5}, rest)
}

func TestFIFOFlush(t *testing.T) {
	var f fifo[int]
	require.NoError(t, f.push(1))
	require.NoError(t, f.push(2))
	f.flush()
	assert.Zero(t, f.len())
	_, ok := f.peek()
	assert.False(t, ok)
	require.NoError(t, f.push(3))
	v, _ := f.pop()
	assert.Equal(t, 3, v)
}
