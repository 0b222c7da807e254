// Package training drives the fine-tuning loop: parameter-grouped AdamW,
// warmup scheduling, epoch training with running-average loss, evaluation,
// and early-stop checkpointing.
package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-textclass/model"
	"github.com/tsawler/go-textclass/tensor"
)

// Optimizer defines the interface that all optimizers must implement
type Optimizer interface {
	Step() error       // Updates parameters based on gradients
	ZeroGrad()         // Zeroes out all parameter gradients
	GetLR() float64    // Returns current learning rate
	SetLR(lr float64)  // Sets learning rate
}

// ParameterGroup is a set of parameters optimized with a shared weight decay.
type ParameterGroup struct {
	Params      []*tensor.Tensor
	WeightDecay float64
}

// BuildParameterGroups splits named parameters into a decayed group and an
// undecayed group. Biases and normalization weights are never decayed.
func BuildParameterGroups(named []model.NamedParameter, weightDecay float64) []ParameterGroup {
	var decay, noDecay []*tensor.Tensor
	for _, np := range named {
		if isNoDecayParam(np.Name) {
			noDecay = append(noDecay, np.Tensor)
		} else {
			decay = append(decay, np.Tensor)
		}
	}
	return []ParameterGroup{
		{Params: decay, WeightDecay: weightDecay},
		{Params: noDecay, WeightDecay: 0},
	}
}

func isNoDecayParam(name string) bool {
	return strings.Contains(name, "bias") || strings.Contains(name, "norm")
}

// AdamW implements Adam with decoupled weight decay. Decay is applied
// directly to the weights instead of being folded into the gradient, so the
// no-decay group trains as plain Adam.
type AdamW struct {
	groups       []ParameterGroup
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64

	m [][]float32 // First moment estimates, one slice per parameter
	v [][]float32 // Second moment estimates
	t int         // Time step
}

// NewAdamW creates an AdamW optimizer over the given parameter groups.
func NewAdamW(groups []ParameterGroup, learningRate, beta1, beta2, epsilon float64) (*AdamW, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", learningRate)
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %f and %f", beta1, beta2)
	}

	opt := &AdamW{
		groups:       groups,
		learningRate: learningRate,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      epsilon,
	}
	for _, g := range groups {
		for _, p := range g.Params {
			if p.DType != tensor.Float32 {
				return nil, fmt.Errorf("AdamW only supports Float32 parameters, got %s", p.DType)
			}
			opt.m = append(opt.m, make([]float32, p.NumElems))
			opt.v = append(opt.v, make([]float32, p.NumElems))
		}
	}
	return opt, nil
}

// Step applies one AdamW update to every parameter that has a gradient.
func (a *AdamW) Step() error {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	idx := 0
	for _, g := range a.groups {
		for _, p := range g.Params {
			m, v := a.m[idx], a.v[idx]
			idx++

			grad := p.Grad()
			if grad == nil {
				continue
			}
			gd, ok := grad.Data.([]float32)
			if !ok || len(gd) != p.NumElems {
				return fmt.Errorf("gradient does not match parameter with %d elements", p.NumElems)
			}
			pd := p.Data.([]float32)

			for i := range pd {
				gi := float64(gd[i])
				m[i] = float32(a.beta1*float64(m[i]) + (1-a.beta1)*gi)
				v[i] = float32(a.beta2*float64(v[i]) + (1-a.beta2)*gi*gi)

				mHat := float64(m[i]) / bc1
				vHat := float64(v[i]) / bc2

				update := a.learningRate * mHat / (math.Sqrt(vHat) + a.epsilon)
				if g.WeightDecay > 0 {
					update += a.learningRate * g.WeightDecay * float64(pd[i])
				}
				pd[i] -= float32(update)
			}
		}
	}
	return nil
}

// ZeroGrad clears gradients on every parameter.
func (a *AdamW) ZeroGrad() {
	for _, g := range a.groups {
		tensor.ZeroGrad(g.Params)
	}
}

func (a *AdamW) GetLR() float64 {
	return a.learningRate
}

func (a *AdamW) SetLR(lr float64) {
	a.learningRate = lr
}
