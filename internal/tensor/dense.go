// Package tensor is the dense-array surface the basis layers run on: row-major
// float64 storage, batched matrix multiplication and patch extraction.
package tensor

import (
	"errors"
	"fmt"
)

var ErrShape = errors.New("tensor shape mismatch")

// Dense is a row-major n-dimensional float64 array.
type Dense struct {
	shape []int
	data  []float64
}

// New wraps data with the given shape. The data slice is not copied.
func New(shape []int, data []float64) (*Dense, error) {
	size, err := volume(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, size, len(data))
	}
	return &Dense{shape: append([]int(nil), shape...), data: data}, nil
}

// Zeros allocates a zero-filled array. It panics on non-positive dimensions.
func Zeros(shape ...int) *Dense {
	size, err := volume(shape)
	if err != nil {
		panic(err)
	}
	return &Dense{shape: append([]int(nil), shape...), data: make([]float64, size)}
}

// FromRows builds a 2-D array from equally sized rows.
func FromRows(rows [][]float64) (*Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShape)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return New([]int{len(rows), cols}, data)
}

func volume(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShape)
	}
	size := 1
	for _, d := range shape {
		if d < 1 {
			return 0, fmt.Errorf("%w: non-positive dimension in %v", ErrShape, shape)
		}
		size *= d
	}
	return size, nil
}

func (d *Dense) Shape() []int {
	return append([]int(nil), d.shape...)
}

func (d *Dense) Dims() int {
	return len(d.shape)
}

func (d *Dense) Dim(i int) int {
	return d.shape[i]
}

func (d *Dense) Len() int {
	return len(d.data)
}

// Data returns the backing slice.
func (d *Dense) Data() []float64 {
	return d.data
}

func (d *Dense) Clone() *Dense {
	return &Dense{shape: append([]int(nil), d.shape...), data: append([]float64(nil), d.data...)}
}

// Reshape returns a view with a new shape over the same storage.
func (d *Dense) Reshape(shape ...int) (*Dense, error) {
	size, err := volume(shape)
	if err != nil {
		return nil, err
	}
	if size != len(d.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, d.shape, shape)
	}
	return &Dense{shape: append([]int(nil), shape...), data: d.data}, nil
}

func (d *Dense) offset(idx []int) int {
	if len(idx) != len(d.shape) {
		panic(fmt.Sprintf("tensor: %d indices for %d dims", len(idx), len(d.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= d.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, d.shape))
		}
		off = off*d.shape[i] + v
	}
	return off
}

func (d *Dense) At(idx ...int) float64 {
	return d.data[d.offset(idx)]
}

func (d *Dense) Set(value float64, idx ...int) {
	d.data[d.offset(idx)] = value
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Dense) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

// Transpose swaps the last two axes of a 2-D or 3-D array.
func Transpose(a *Dense) (*Dense, error) {
	batch, rows, cols, err := matrixDims(a)
	if err != nil {
		return nil, err
	}
	shape := []int{cols, rows}
	if a.Dims() == 3 {
		shape = []int{batch, cols, rows}
	}
	out := Zeros(shape...)
	for b := 0; b < batch; b++ {
		src := a.data[b*rows*cols : (b+1)*rows*cols]
		dst := out.data[b*rows*cols : (b+1)*rows*cols]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[j*rows+i] = src[i*cols+j]
			}
		}
	}
	return out, nil
}

// MatMul multiplies [m,k]x[k,n], [B,m,k]x[k,n], [m,k]x[B,k,n] or
// [B,m,k]x[B,k,n]. A 2-D operand is broadcast across the batch.
func MatMul(a, b *Dense) (*Dense, error) {
	batchA, m, k, err := matrixDims(a)
	if err != nil {
		return nil, err
	}
	batchB, k2, n, err := matrixDims(b)
	if err != nil {
		return nil, err
	}
	if k != k2 {
		return nil, fmt.Errorf("%w: matmul inner dims %d and %d", ErrShape, k, k2)
	}
	batched := a.Dims() == 3 || b.Dims() == 3
	batch := batchA
	if batchB > batch {
		batch = batchB
	}
	if a.Dims() == 3 && b.Dims() == 3 && batchA != batchB {
		return nil, fmt.Errorf("%w: matmul batch dims %d and %d", ErrShape, batchA, batchB)
	}

	shape := []int{m, n}
	if batched {
		shape = []int{batch, m, n}
	}
	out := Zeros(shape...)
	for bi := 0; bi < batch; bi++ {
		aOff := 0
		if a.Dims() == 3 {
			aOff = bi * m * k
		}
		bOff := 0
		if b.Dims() == 3 {
			bOff = bi * k * n
		}
		dst := out.data[bi*m*n : (bi+1)*m*n]
		for i := 0; i < m; i++ {
			row := a.data[aOff+i*k : aOff+(i+1)*k]
			for p, av := range row {
				if av == 0 {
					continue
				}
				bRow := b.data[bOff+p*n : bOff+(p+1)*n]
				for j, bv := range bRow {
					dst[i*n+j] += av * bv
				}
			}
		}
	}
	return out, nil
}

func matrixDims(a *Dense) (batch, rows, cols int, err error) {
	switch a.Dims() {
	case 2:
		return 1, a.shape[0], a.shape[1], nil
	case 3:
		return a.shape[0], a.shape[1], a.shape[2], nil
	default:
		return 0, 0, 0, fmt.Errorf("%w: expected 2-D or 3-D operand, got %v", ErrShape, a.shape)
	}
}
