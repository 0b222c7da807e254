package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// Resolve returns the device training should run on: the accelerator when one
// is present, otherwise the CPU. The handle is resolved once at startup and
// passed through configuration; component code never probes device state.
func Resolve() DeviceType {
	if acceleratorAvailable() {
		return GPU
	}
	return CPU
}

// acceleratorAvailable reports whether an accelerator backend is compiled in.
// The portable build is CPU-only.
func acceleratorAvailable() bool {
	return false
}

// Operation is a node in the autograd graph. Each operation remembers the
// tensors it consumed so Backward can hand gradients back to them.
type Operation interface {
	// Backward receives the gradient of the loss with respect to this
	// operation's output and returns gradients aligned with Inputs().
	// A nil entry means "no gradient for this input".
	Backward(gradOut *Tensor) ([]*Tensor, error)

	// Inputs returns the tensors this operation consumed, in order.
	Inputs() []*Tensor
}

type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Device   DeviceType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad replaces the accumulated gradient.
func (t *Tensor) SetGrad(g *Tensor) {
	t.grad = g
}

// ZeroGrad clears gradients on a parameter list before a new backward pass.
func ZeroGrad(params []*Tensor) {
	for _, p := range params {
		if p != nil {
			p.grad = nil
		}
	}
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape cannot be empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("shape dimension %d must be positive, got %d", i, dim)
		}
	}
	return nil
}

// gradEnabled gates autograd graph construction. Evaluation sweeps disable it
// so forward passes do not retain intermediate tensors.
var gradEnabled = true

// SetGradEnabled toggles gradient tracking and returns the previous setting,
// so callers can restore it with defer.
func SetGradEnabled(enabled bool) bool {
	prev := gradEnabled
	gradEnabled = enabled
	return prev
}

// GradEnabled reports whether new operations record the autograd graph.
func GradEnabled() bool {
	return gradEnabled
}
