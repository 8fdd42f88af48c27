package nn

// Numeric covers the element types tensors can carry. Normalization math
// runs in float64 internally and casts back to the element type.
type Numeric interface {
	~float32 | ~float64 |
		~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Tensor is a flat data buffer with a row-major shape
type Tensor[T Numeric] struct {
	Data  []T
	Shape []int
}

// NewTensor creates a zero-filled tensor with the given dimensions
func NewTensor[T Numeric](dims ...int) *Tensor[T] {
	size := 1
	for _, d := range dims {
		size *= d
	}
	return &Tensor[T]{
		Data:  make([]T, size),
		Shape: append([]int{}, dims...),
	}
}

// NewTensorFromSlice creates a tensor by copying data into the given shape.
// The copy keeps the caller's slice independent of the tensor.
func NewTensorFromSlice[T Numeric](data []T, dims ...int) *Tensor[T] {
	t := &Tensor[T]{
		Data:  make([]T, len(data)),
		Shape: append([]int{}, dims...),
	}
	copy(t.Data, data)
	return t
}

// Size returns the number of elements in the tensor
func (t *Tensor[T]) Size() int {
	return len(t.Data)
}

// Clone returns a deep copy of the tensor
func (t *Tensor[T]) Clone() *Tensor[T] {
	return NewTensorFromSlice(t.Data, t.Shape...)
}

// Reshape returns a view-copy with a new shape, or nil if the element
// count does not match
func (t *Tensor[T]) Reshape(dims ...int) *Tensor[T] {
	size := 1
	for _, d := range dims {
		size *= d
	}
	if size != len(t.Data) {
		return nil
	}
	return NewTensorFromSlice(t.Data, dims...)
}

// At returns the element at the given multi-index
func (t *Tensor[T]) At(indices ...int) T {
	return t.Data[t.flatIndex(indices)]
}

// Set writes the element at the given multi-index
func (t *Tensor[T]) Set(value T, indices ...int) {
	t.Data[t.flatIndex(indices)] = value
}

func (t *Tensor[T]) flatIndex(indices []int) int {
	idx := 0
	for a, i := range indices {
		idx = idx*t.Shape[a] + i
	}
	return idx
}
