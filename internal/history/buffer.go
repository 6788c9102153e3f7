package history

import "sort"

// DefaultCapacity 远大于实际策略所需的交叉回看长度。
const DefaultCapacity = 500

// Buffer 按名称保存每条序列的有界历史，只追加，超出容量淘汰最旧值。
// 一个 Buffer 只属于一个 session，不做并发保护。
type Buffer[T any] struct {
	capacity int
	series   map[string]*Ring[T]
}

// NewBuffer 创建 Buffer；capacity<=0 时使用 DefaultCapacity。
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{capacity: capacity, series: make(map[string]*Ring[T])}
}

// Record 追加 name 在刚处理完的 bar 上的取值。
func (b *Buffer[T]) Record(name string, value T) {
	r, ok := b.series[name]
	if !ok {
		r = NewRing[T](b.capacity)
		b.series[name] = r
	}
	r.Push(value)
}

// Previous 返回 offsetBack 根之前的值：1 表示上一根 bar。
// 记录数不足或 offsetBack<1 时返回 false。
func (b *Buffer[T]) Previous(name string, offsetBack int) (T, bool) {
	var zero T
	if offsetBack < 1 {
		return zero, false
	}
	r, ok := b.series[name]
	if !ok {
		return zero, false
	}
	return r.Back(offsetBack - 1)
}

// Len 返回 name 已保留的历史长度。
func (b *Buffer[T]) Len(name string) int {
	if r, ok := b.series[name]; ok {
		return r.Len()
	}
	return 0
}

// Capacity 每条序列的上限。
func (b *Buffer[T]) Capacity() int { return b.capacity }

// Names 返回已记录的序列名（排序后）。
func (b *Buffer[T]) Names() []string {
	out := make([]string, 0, len(b.series))
	for name := range b.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Series 按时间顺序复制 name 的全部历史。
func (b *Buffer[T]) Series(name string) []T {
	if r, ok := b.series[name]; ok {
		return r.Slice()
	}
	return nil
}

// Reset 丢弃全部历史。
func (b *Buffer[T]) Reset() {
	b.series = make(map[string]*Ring[T])
}
