package tensor

import (
	"fmt"
	"math"
)

// attachCreator records op as the producer of result when gradient tracking
// is on and at least one input participates in the graph.
func attachCreator(result *Tensor, op Operation, inputs ...*Tensor) {
	if !gradEnabled {
		return
	}
	for _, in := range inputs {
		if in.requiresGrad || in.creator != nil {
			result.creator = op
			result.requiresGrad = true
			return
		}
	}
}

// accumulateGrad adds g into t's gradient, allocating on first touch.
func (t *Tensor) accumulateGrad(g *Tensor) error {
	if t.grad == nil {
		c, err := g.Clone()
		if err != nil {
			return err
		}
		t.grad = c
		return nil
	}
	if t.grad.NumElems != g.NumElems {
		return fmt.Errorf("gradient size mismatch: %d vs %d", t.grad.NumElems, g.NumElems)
	}
	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// Backward runs reverse-mode differentiation from a scalar loss, accumulating
// gradients into every reachable tensor that requires them.
func (t *Tensor) Backward() error {
	if t.DType != Float32 {
		return fmt.Errorf("backward requires a Float32 tensor, got %s", t.DType)
	}
	if t.NumElems != 1 {
		return fmt.Errorf("backward can only start from a scalar, got %d elements", t.NumElems)
	}

	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return err
	}
	t.grad = seed

	order := topoOrder(t)
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}
		grads, err := node.creator.Backward(node.grad)
		if err != nil {
			return fmt.Errorf("backward through %T failed: %v", node.creator, err)
		}
		inputs := node.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("backward through %T returned %d gradients for %d inputs",
				node.creator, len(grads), len(inputs))
		}
		for j, in := range inputs {
			if grads[j] == nil {
				continue
			}
			if !in.requiresGrad && in.creator == nil {
				continue
			}
			if err := in.accumulateGrad(grads[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoOrder returns tensors reachable from root in topological order
// (inputs before outputs).
func topoOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

// AddOp adds two tensors. The second input may be a 1D bias broadcast over
// the rows of a 2D first input.
type AddOp struct {
	inputs    []*Tensor
	broadcast bool
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(a, b *Tensor) (*Tensor, error) {
	var result *Tensor
	var err error

	if len(a.Shape) == 2 && len(b.Shape) == 1 && a.Shape[1] == b.Shape[0] {
		op.broadcast = true
		rows, cols := a.Shape[0], a.Shape[1]
		ad := a.Data.([]float32)
		bd := b.Data.([]float32)
		out := make([]float32, a.NumElems)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[i*cols+j] = ad[i*cols+j] + bd[j]
			}
		}
		result, err = NewTensor([]int{rows, cols}, Float32, a.Device, out)
	} else {
		result, err = Add(a, b)
	}
	if err != nil {
		return nil, err
	}

	op.inputs = []*Tensor{a, b}
	attachCreator(result, op, a, b)
	return result, nil
}

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}

	if !op.broadcast {
		gb, err := gradOut.Clone()
		if err != nil {
			return nil, err
		}
		return []*Tensor{ga, gb}, nil
	}

	// Bias gradient: sum the output gradient over rows.
	rows, cols := gradOut.Shape[0], gradOut.Shape[1]
	g := gradOut.Data.([]float32)
	biasGrad := make([]float32, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			biasGrad[j] += g[i*cols+j]
		}
	}
	gb, err := NewTensor([]int{cols}, Float32, gradOut.Device, biasGrad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// MulOp multiplies two same-shape tensors element-wise.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	op.inputs = []*Tensor{a, b}
	attachCreator(result, op, a, b)
	return result, nil
}

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := Mul(gradOut, op.inputs[1])
	if err != nil {
		return nil, err
	}
	gb, err := Mul(gradOut, op.inputs[0])
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// MatMulOp multiplies a [m, k] by b [k, n].
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(a, b *Tensor) (*Tensor, error) {
	result, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	op.inputs = []*Tensor{a, b}
	attachCreator(result, op, a, b)
	return result, nil
}

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// dA = gradOut x B^T
	bt, err := Transpose2D(b)
	if err != nil {
		return nil, err
	}
	ga, err := MatMul(gradOut, bt)
	if err != nil {
		return nil, err
	}

	// dB = A^T x gradOut
	at, err := Transpose2D(a)
	if err != nil {
		return nil, err
	}
	gb, err := MatMul(at, gradOut)
	if err != nil {
		return nil, err
	}

	return []*Tensor{ga, gb}, nil
}

// SigmoidOp applies the logistic function element-wise.
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Forward(a *Tensor) (*Tensor, error) {
	result, err := Sigmoid(a)
	if err != nil {
		return nil, err
	}
	op.inputs = []*Tensor{a}
	op.output = result
	attachCreator(result, op, a)
	return result, nil
}

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// dσ/dx = σ(x) * (1 - σ(x))
	s := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)
	out := make([]float32, len(s))
	for i := range out {
		out[i] = g[i] * s[i] * (1 - s[i])
	}
	grad, err := NewTensor(op.output.Shape, Float32, gradOut.Device, out)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// EmbeddingOp gathers rows of a [vocab, hidden] weight matrix by id.
type EmbeddingOp struct {
	inputs []*Tensor // weight, ids
}

func (op *EmbeddingOp) Inputs() []*Tensor { return op.inputs }

func (op *EmbeddingOp) Forward(weight, ids *Tensor) (*Tensor, error) {
	if weight.DType != Float32 || len(weight.Shape) != 2 {
		return nil, fmt.Errorf("embedding weight must be 2D Float32, got %s %v", weight.DType, weight.Shape)
	}
	if ids.DType != Int32 || len(ids.Shape) != 2 {
		return nil, fmt.Errorf("embedding ids must be 2D Int32, got %s %v", ids.DType, ids.Shape)
	}

	vocab, hidden := weight.Shape[0], weight.Shape[1]
	batch, seq := ids.Shape[0], ids.Shape[1]
	w := weight.Data.([]float32)
	idData := ids.Data.([]int32)

	out := make([]float32, batch*seq*hidden)
	for i, id := range idData {
		if int(id) < 0 || int(id) >= vocab {
			return nil, fmt.Errorf("embedding id %d out of range [0, %d)", id, vocab)
		}
		copy(out[i*hidden:(i+1)*hidden], w[int(id)*hidden:(int(id)+1)*hidden])
	}

	result, err := NewTensor([]int{batch, seq, hidden}, Float32, weight.Device, out)
	if err != nil {
		return nil, err
	}
	op.inputs = []*Tensor{weight, ids}
	attachCreator(result, op, weight, ids)
	return result, nil
}

func (op *EmbeddingOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	weight, ids := op.inputs[0], op.inputs[1]
	hidden := weight.Shape[1]
	idData := ids.Data.([]int32)
	g := gradOut.Data.([]float32)

	wGrad := make([]float32, weight.NumElems)
	for i, id := range idData {
		base := int(id) * hidden
		for h := 0; h < hidden; h++ {
			wGrad[base+h] += g[i*hidden+h]
		}
	}
	grad, err := NewTensor(weight.Shape, Float32, gradOut.Device, wGrad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad, nil}, nil
}

// MaskedMeanOp pools a [batch, seq, hidden] tensor to [batch, hidden] by
// averaging positions where the attention mask is non-zero.
type MaskedMeanOp struct {
	inputs []*Tensor // x, mask
	denoms []float32
}

func (op *MaskedMeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MaskedMeanOp) Forward(x, mask *Tensor) (*Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("masked mean requires a 3D input, got %v", x.Shape)
	}
	if len(mask.Shape) != 2 || mask.Shape[0] != x.Shape[0] || mask.Shape[1] != x.Shape[1] {
		return nil, fmt.Errorf("mask shape %v does not match input %v", mask.Shape, x.Shape)
	}
	if x.DType != Float32 || mask.DType != Float32 {
		return nil, fmt.Errorf("masked mean only supports Float32 tensors")
	}

	batch, seq, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	xd := x.Data.([]float32)
	md := mask.Data.([]float32)

	out := make([]float32, batch*hidden)
	denoms := make([]float32, batch)
	for b := 0; b < batch; b++ {
		var count float32
		for s := 0; s < seq; s++ {
			m := md[b*seq+s]
			if m == 0 {
				continue
			}
			count += m
			base := (b*seq + s) * hidden
			for h := 0; h < hidden; h++ {
				out[b*hidden+h] += m * xd[base+h]
			}
		}
		if count == 0 {
			count = 1 // fully padded row
		}
		denoms[b] = count
		for h := 0; h < hidden; h++ {
			out[b*hidden+h] /= count
		}
	}

	result, err := NewTensor([]int{batch, hidden}, Float32, x.Device, out)
	if err != nil {
		return nil, err
	}
	op.inputs = []*Tensor{x, mask}
	op.denoms = denoms
	attachCreator(result, op, x, mask)
	return result, nil
}

func (op *MaskedMeanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x, mask := op.inputs[0], op.inputs[1]
	batch, seq, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	md := mask.Data.([]float32)
	g := gradOut.Data.([]float32)

	xGrad := make([]float32, x.NumElems)
	for b := 0; b < batch; b++ {
		den := op.denoms[b]
		for s := 0; s < seq; s++ {
			m := md[b*seq+s]
			if m == 0 {
				continue
			}
			base := (b*seq + s) * hidden
			for h := 0; h < hidden; h++ {
				xGrad[base+h] = m * g[b*hidden+h] / den
			}
		}
	}
	grad, err := NewTensor(x.Shape, Float32, gradOut.Device, xGrad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad, nil}, nil
}

// AttachOp records op as the producer of result so custom operations defined
// outside this package can participate in backward passes.
func AttachOp(result *Tensor, op Operation, inputs ...*Tensor) {
	attachCreator(result, op, inputs...)
}

// High-level autograd entry points.

// AddAutograd performs addition with automatic differentiation. A 1D second
// operand is broadcast as a bias over a 2D first operand.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	op := &AddOp{}
	return op.Forward(a, b)
}

// MulAutograd performs element-wise multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	op := &MulOp{}
	return op.Forward(a, b)
}

// MatMulAutograd performs matrix multiplication with automatic differentiation.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

// SigmoidAutograd applies the logistic function with automatic differentiation.
func SigmoidAutograd(a *Tensor) (*Tensor, error) {
	op := &SigmoidOp{}
	return op.Forward(a)
}

// EmbeddingAutograd gathers embedding rows with automatic differentiation.
func EmbeddingAutograd(weight, ids *Tensor) (*Tensor, error) {
	op := &EmbeddingOp{}
	return op.Forward(weight, ids)
}

// MaskedMeanAutograd pools token vectors with automatic differentiation.
func MaskedMeanAutograd(x, mask *Tensor) (*Tensor, error) {
	op := &MaskedMeanOp{}
	return op.Forward(x, mask)
}

// SigmoidScalar is the logistic function on a single value. The multi-label
// decision policy thresholds it at 0.5.
func SigmoidScalar(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
