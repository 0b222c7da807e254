package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	if t1.NumElems != t2.NumElems {
		return fmt.Errorf("element count mismatch: %d vs %d", t1.NumElems, t2.NumElems)
	}
	for i, dim := range t1.Shape {
		if dim != t2.Shape[i] {
			return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
		}
	}
	return nil
}

// Add computes t1 + t2 element-wise. Plain arithmetic, no graph recording.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("Add only supports Float32 tensors, got %s", t1.DType)
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := make([]float32, t1.NumElems)
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return NewTensor(t1.Shape, t1.DType, t1.Device, out)
}

// Sub computes t1 - t2 element-wise.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("Sub only supports Float32 tensors, got %s", t1.DType)
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := make([]float32, t1.NumElems)
	for i := range out {
		out[i] = a[i] - b[i]
	}
	return NewTensor(t1.Shape, t1.DType, t1.Device, out)
}

// Mul computes t1 * t2 element-wise.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("Mul only supports Float32 tensors, got %s", t1.DType)
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := make([]float32, t1.NumElems)
	for i := range out {
		out[i] = a[i] * b[i]
	}
	return NewTensor(t1.Shape, t1.DType, t1.Device, out)
}

// Scale computes t * s for a scalar s.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Scale only supports Float32 tensors, got %s", t.DType)
	}
	a := t.Data.([]float32)
	out := make([]float32, t.NumElems)
	for i := range out {
		out[i] = a[i] * float32(s)
	}
	return NewTensor(t.Shape, t.DType, t.Device, out)
}

// MatMul computes the 2D matrix product of t1 [m, k] and t2 [k, n].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("MatMul only supports Float32 tensors")
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	m, k := t1.Shape[0], t1.Shape[1]
	k2, n := t2.Shape[0], t2.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("MatMul inner dimension mismatch: %v x %v", t1.Shape, t2.Shape)
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := a[i*k+l]
			if av == 0 {
				continue
			}
			row := b[l*n : l*n+n]
			outRow := out[i*n : i*n+n]
			for j := 0; j < n; j++ {
				outRow[j] += av * row[j]
			}
		}
	}
	return NewTensor([]int{m, n}, Float32, t1.Device, out)
}

// Transpose2D swaps the two axes of a 2D tensor.
func Transpose2D(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose2D requires a 2D tensor, got %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose2D only supports Float32 tensors")
	}
	rows, cols := t.Shape[0], t.Shape[1]
	a := t.Data.([]float32)
	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = a[i*cols+j]
		}
	}
	return NewTensor([]int{cols, rows}, Float32, t.Device, out)
}

// Sigmoid applies the logistic function element-wise.
func Sigmoid(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Sigmoid only supports Float32 tensors, got %s", t.DType)
	}
	a := t.Data.([]float32)
	out := make([]float32, t.NumElems)
	for i, v := range a {
		out[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}
	return NewTensor(t.Shape, t.DType, t.Device, out)
}

// ReLU applies max(0, x) element-wise.
func ReLU(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("ReLU only supports Float32 tensors, got %s", t.DType)
	}
	a := t.Data.([]float32)
	out := make([]float32, t.NumElems)
	for i, v := range a {
		if v > 0 {
			out[i] = v
		}
	}
	return NewTensor(t.Shape, t.DType, t.Device, out)
}

// Softmax applies a row-wise softmax over the last axis of a 2D tensor,
// shifted by the row max for numerical stability.
func Softmax(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Softmax only supports Float32 tensors, got %s", t.DType)
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Softmax requires a 2D tensor, got %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	a := t.Data.([]float32)
	out := make([]float32, t.NumElems)
	for i := 0; i < rows; i++ {
		offset := i * cols
		maxVal := a[offset]
		for j := 1; j < cols; j++ {
			if a[offset+j] > maxVal {
				maxVal = a[offset+j]
			}
		}
		var sum float32
		for j := 0; j < cols; j++ {
			e := float32(math.Exp(float64(a[offset+j] - maxVal)))
			out[offset+j] = e
			sum += e
		}
		for j := 0; j < cols; j++ {
			out[offset+j] /= sum
		}
	}
	return NewTensor(t.Shape, t.DType, t.Device, out)
}

// ArgMaxRows returns, for each row of a 2D Float32 tensor, the first index
// attaining the row maximum.
func ArgMaxRows(t *Tensor) ([]int, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("ArgMaxRows only supports Float32 tensors, got %s", t.DType)
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("ArgMaxRows requires a 2D tensor, got %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	a := t.Data.([]float32)
	result := make([]int, rows)
	for i := 0; i < rows; i++ {
		maxIdx := 0
		maxVal := a[i*cols]
		for j := 1; j < cols; j++ {
			if a[i*cols+j] > maxVal {
				maxVal = a[i*cols+j]
				maxIdx = j
			}
		}
		result[i] = maxIdx
	}
	return result, nil
}
