// Package model implements the sequence-classification model: embedding
// encoder, classifier heads, and the loss functions each variant trains with.
package model

import (
	"fmt"
	"math"

	"github.com/tsawler/go-textclass/tensor"
)

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Parameters() []*tensor.Tensor // Returns trainable parameters
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// NamedParameter pairs a parameter tensor with its dotted path. Optimizer
// parameter grouping and checkpoint extraction work off these names.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a Linear layer with Xavier/Glorot uniform initialization.
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weight, err := tensor.Uniform([]int{inputSize, outputSize}, bound, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	l := &Linear{weight: weight, training: true}

	if bias {
		b, err := tensor.Zeros([]int{outputSize}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		b.SetRequiresGrad(true)
		l.bias = b
	}
	return l, nil
}

// Forward computes xW (+ b) through the autograd graph.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear forward failed: %v", err)
	}
	if l.bias != nil {
		out, err = tensor.AddAutograd(out, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %v", err)
		}
	}
	return out, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

// NamedParameters returns the layer parameters under the given prefix.
func (l *Linear) NamedParameters(prefix string) []NamedParameter {
	named := []NamedParameter{{Name: prefix + ".weight", Tensor: l.weight}}
	if l.bias != nil {
		named = append(named, NamedParameter{Name: prefix + ".bias", Tensor: l.bias})
	}
	return named
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// Embedding maps token ids to dense vectors via a [vocabSize, hidden] table.
type Embedding struct {
	weight   *tensor.Tensor
	training bool
}

// NewEmbedding creates an embedding table initialized from U(-0.1, 0.1).
func NewEmbedding(vocabSize, hidden int, device tensor.DeviceType) (*Embedding, error) {
	weight, err := tensor.Uniform([]int{vocabSize, hidden}, 0.1, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding table: %v", err)
	}
	weight.SetRequiresGrad(true)
	return &Embedding{weight: weight, training: true}, nil
}

// Forward gathers vectors for a [batch, seq] id tensor.
func (e *Embedding) Forward(ids *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.EmbeddingAutograd(e.weight, ids)
	if err != nil {
		return nil, fmt.Errorf("embedding forward failed: %v", err)
	}
	return out, nil
}

func (e *Embedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.weight}
}

func (e *Embedding) NamedParameters(prefix string) []NamedParameter {
	return []NamedParameter{{Name: prefix + ".weight", Tensor: e.weight}}
}

func (e *Embedding) Train()           { e.training = true }
func (e *Embedding) Eval()            { e.training = false }
func (e *Embedding) IsTraining() bool { return e.training }

// Dropout zeroes activations with probability p during training and rescales
// the rest by 1/(1-p). Evaluation mode is the identity.
type Dropout struct {
	p        float64
	training bool
}

func NewDropout(p float64) *Dropout {
	return &Dropout{p: p, training: true}
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}

	keep := float32(1.0 / (1.0 - d.p))
	maskData := make([]float32, input.NumElems)
	for i := range maskData {
		if tensor.RandFloat64() >= d.p {
			maskData[i] = keep
		}
	}
	mask, err := tensor.NewTensor(input.Shape, tensor.Float32, input.Device, maskData)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropout mask: %v", err)
	}

	out, err := tensor.MulAutograd(input, mask)
	if err != nil {
		return nil, fmt.Errorf("dropout forward failed: %v", err)
	}
	return out, nil
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout) Train()                       { d.training = true }
func (d *Dropout) Eval()                        { d.training = false }
func (d *Dropout) IsTraining() bool             { return d.training }
