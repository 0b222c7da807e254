package tensor

import (
	"fmt"
)

// Clone copies shape and data. The autograd graph is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)

	var data interface{}
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := make([]float32, len(src))
		copy(dst, src)
		data = dst
	case Int32:
		src := t.Data.([]int32)
		dst := make([]int32, len(src))
		copy(dst, src)
		data = dst
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return NewTensor(shape, t.DType, t.Device, data)
}

// GetFloat32Data returns the raw Float32 backing slice.
func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

// GetInt32Data returns the raw Int32 backing slice.
func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the single value of a one-element tensor.
func (t *Tensor) Item() (interface{}, error) {
	if t.NumElems != 1 {
		return nil, fmt.Errorf("Item requires a single-element tensor, got %d elements", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return t.Data.([]float32)[0], nil
	case Int32:
		return t.Data.([]int32)[0], nil
	default:
		return nil, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

// Float32Item returns the single value of a one-element Float32 tensor.
func (t *Tensor) Float32Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Float32Item requires a single-element tensor, got %d elements", t.NumElems)
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("Float32Item requires a Float32 tensor, got %s", t.DType)
	}
	return t.Data.([]float32)[0], nil
}

// Reshape returns a view-like tensor with a new shape and shared data.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v to %v: element counts differ", t.Shape, newShape)
	}

	shape := make([]int, len(newShape))
	copy(shape, newShape)

	out := &Tensor{
		Shape:        shape,
		Strides:      calculateStrides(shape),
		DType:        t.DType,
		Device:       t.Device,
		Data:         t.Data,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}
	return out, nil
}

// ToDevice moves the tensor to the target device. On this build device moves
// only re-tag the tensor; data already lives in host memory.
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	if t.Device == device {
		return t, nil
	}
	moved, err := t.Clone()
	if err != nil {
		return nil, fmt.Errorf("device transfer failed: %v", err)
	}
	moved.Device = device
	moved.requiresGrad = t.requiresGrad
	return moved, nil
}
