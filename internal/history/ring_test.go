package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	assert.False(t, r.Push(1))
	assert.False(t, r.Push(2))
	assert.False(t, r.Push(3))
	assert.True(t, r.Full())
	assert.True(t, r.Push(4))

	assert.Equal(t, []int{2, 3, 4}, r.Slice())
	oldest, ok := r.Oldest()
	assert.True(t, ok)
	assert.Equal(t, 2, oldest)
	latest, ok := r.Back(0)
	assert.True(t, ok)
	assert.Equal(t, 4, latest)
	_, ok = r.Back(3)
	assert.False(t, ok)
	_, ok = r.Get(-1)
	assert.False(t, ok)
}

func TestRingClearAndZeroCapacity(t *testing.T) {
	r := NewRing[string](0)
	assert.Equal(t, 1, r.Cap())
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Slice())
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Slice())
}
