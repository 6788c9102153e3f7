// Package history 保存有界的历史序列，供“上一根”取值与交叉判断使用。
package history

// Ring 是固定容量的环形队列，写满后覆盖最旧的元素。
type Ring[T any] struct {
	buf    []T
	start  int
	length int
}

// NewRing 创建容量为 capacity 的 Ring（capacity<=0 时按 1 处理）。
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push 追加一个元素，返回是否发生了淘汰。
func (r *Ring[T]) Push(v T) (evicted bool) {
	c := len(r.buf)
	if r.length < c {
		r.buf[(r.start+r.length)%c] = v
		r.length++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % c
	return true
}

// Get 按时间顺序读取，0 为最旧。
func (r *Ring[T]) Get(index int) (T, bool) {
	var zero T
	if index < 0 || index >= r.length {
		return zero, false
	}
	return r.buf[(r.start+index)%len(r.buf)], true
}

// Back 从最新往回读取，0 为最新。
func (r *Ring[T]) Back(offset int) (T, bool) {
	return r.Get(r.length - 1 - offset)
}

// Oldest 返回最旧的元素。
func (r *Ring[T]) Oldest() (T, bool) { return r.Get(0) }

// Len 当前元素个数。
func (r *Ring[T]) Len() int { return r.length }

// Cap 容量。
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full 报告是否已写满。
func (r *Ring[T]) Full() bool { return r.length == len(r.buf) }

// Clear 清空但保留底层数组。
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.length = 0
}

// Slice 按时间顺序复制出全部元素。
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.length)
	for i := 0; i < r.length; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
