package tensor

import (
	"fmt"
	"math/rand"
)

// Global random source for deterministic weight initialization and dropout
// masks. Fixed by the entry point before model construction.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic initialization.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// RandFloat64 draws from the seeded source. Dropout masks use this so runs
// with the same seed are reproducible.
func RandFloat64() float64 {
	return globalRng.Float64()
}

func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	strides := calculateStrides(shape)

	t := &Tensor{
		Shape:    shape,
		Strides:  strides,
		DType:    dtype,
		Device:   device,
		NumElems: numElems,
	}

	if data != nil {
		if err := t.setData(data); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		s := make([]float32, numElems)
		for i := range s {
			s[i] = 1
		}
		data = s
	case Int32:
		s := make([]int32, numElems)
		for i := range s {
			s[i] = 1
		}
		data = s
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

// Uniform creates a Float32 tensor with values drawn from U(-bound, bound)
// using the global seeded source.
func Uniform(shape []int, bound float64, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)
	for i := range data {
		data[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	return NewTensor(shape, Float32, device, data)
}
