package training

import (
	"fmt"

	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/tensor"
)

// Predictions holds decided labels for a batch. Classes is set for
// single-label problems, MultiHot for multi-label problems.
type Predictions struct {
	Classes  []int   // one class id per example
	MultiHot [][]int // one 0/1 vector per example
}

// Decide turns raw logits [batch, labels] into label decisions.
//
// Single-label problems take the argmax of each row. Multi-label problems
// depend on the loss the model trained with: BCE thresholds the sigmoid
// activation at 0.5, ZLPR thresholds the raw score at zero. The two rules
// pick the same labels since sigmoid(0) = 0.5.
func Decide(logits *tensor.Tensor, problem config.ProblemType, lossType config.LossType) (*Predictions, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("decision requires 2D logits, got %v", logits.Shape)
	}

	switch problem {
	case config.SingleLabel:
		classes, err := tensor.ArgMaxRows(logits)
		if err != nil {
			return nil, err
		}
		return &Predictions{Classes: classes}, nil

	case config.MultiLabel:
		batch, numLabels := logits.Shape[0], logits.Shape[1]
		data, err := logits.GetFloat32Data()
		if err != nil {
			return nil, err
		}

		hot := make([][]int, batch)
		for i := 0; i < batch; i++ {
			row := make([]int, numLabels)
			for j := 0; j < numLabels; j++ {
				score := float64(data[i*numLabels+j])
				switch lossType {
				case config.BCE:
					if tensor.SigmoidScalar(score) > 0.5 {
						row[j] = 1
					}
				case config.ZLPR:
					if score > 0 {
						row[j] = 1
					}
				default:
					return nil, fmt.Errorf("loss_type must be ZLPR or BCE")
				}
			}
			hot[i] = row
		}
		return &Predictions{MultiHot: hot}, nil

	default:
		return nil, fmt.Errorf("unknown problem type %q", problem)
	}
}
