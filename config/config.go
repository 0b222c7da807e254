// Package config defines the immutable run configuration. The entry point
// constructs one Config before training and passes it by pointer into every
// component; derived fields are computed once and never mutated mid-run.
package config

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-textclass/tensor"
)

// ProblemType selects between single-label and multi-label classification.
type ProblemType string

const (
	SingleLabel ProblemType = "single_label_classification"
	MultiLabel  ProblemType = "multi_label_classification"
)

// LossType selects the multi-label loss family. It also fixes the decision
// boundary at inference time: BCE thresholds sigmoid scores at 0.5, ZLPR
// thresholds raw scores at 0.
type LossType string

const (
	BCE  LossType = "BCE"
	ZLPR LossType = "ZLPR"
)

// ModelKind is the closed set of classifier variants.
type ModelKind string

const (
	// KindStandard is the plain sequence classifier.
	KindStandard ModelKind = "standard"
	// KindCostWeighted weights the loss per label by training-set frequency.
	KindCostWeighted ModelKind = "cost_weighted"
	// KindCorrelation adds a CorNet-style label-correlation head.
	KindCorrelation ModelKind = "correlation"
)

// ParseModelKind validates a model kind flag value.
func ParseModelKind(s string) (ModelKind, error) {
	switch ModelKind(s) {
	case KindStandard, KindCostWeighted, KindCorrelation:
		return ModelKind(s), nil
	default:
		return "", errors.Errorf("unknown model kind %q: must be %s, %s or %s",
			s, KindStandard, KindCostWeighted, KindCorrelation)
	}
}

// Config is the resolved run configuration. Fields under "Derived" are
// computed once at startup from the inputs above them.
type Config struct {
	// Data files
	TrainFile      string
	DevFile        string
	TestFile       string
	LabelFile      string
	TrainCountFile string
	VocabFile      string
	Pretrained     string
	OutputDir      string

	// Task
	ModelKind   ModelKind
	ProblemType ProblemType
	LossType    LossType

	// Training hyperparameters
	BatchSize         int
	MaxLength         int
	HiddenSize        int
	NumEpochs         int
	LearningRate      float64
	AdamBeta1         float64
	AdamBeta2         float64
	AdamEpsilon       float64
	WeightDecay       float64
	WarmupProportion  float64
	ClassifierDropout float64
	EarlyStop         int
	Seed              int64
	UseRDrop          bool

	// Derived, set once before training begins.
	NumLabels    int
	LabelWeights []float32
	Device       tensor.DeviceType
}

// Validate rejects configurations no component could run with.
func (c *Config) Validate() error {
	if c.ProblemType != SingleLabel && c.ProblemType != MultiLabel {
		return errors.Errorf("problem_type must be %s or %s, got %q",
			SingleLabel, MultiLabel, c.ProblemType)
	}
	if c.ProblemType == MultiLabel && c.LossType != BCE && c.LossType != ZLPR {
		return errors.Errorf("loss_type must be ZLPR or BCE, got %q", c.LossType)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxLength <= 0 {
		return errors.Errorf("max length must be positive, got %d", c.MaxLength)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive, got %f", c.LearningRate)
	}
	if c.AdamBeta1 <= 0 || c.AdamBeta1 >= 1 {
		return errors.Errorf("adam beta1 must be in (0, 1), got %f", c.AdamBeta1)
	}
	if c.AdamBeta2 <= 0 || c.AdamBeta2 >= 1 {
		return errors.Errorf("adam beta2 must be in (0, 1), got %f", c.AdamBeta2)
	}
	if c.AdamEpsilon <= 0 {
		return errors.Errorf("adam epsilon must be positive, got %f", c.AdamEpsilon)
	}
	if c.WeightDecay < 0 {
		return errors.Errorf("weight decay must be non-negative, got %f", c.WeightDecay)
	}
	if c.WarmupProportion < 0 || c.WarmupProportion > 1 {
		return errors.Errorf("warmup proportion must be in [0, 1], got %f", c.WarmupProportion)
	}
	if c.ClassifierDropout < 0 || c.ClassifierDropout >= 1 {
		return errors.Errorf("classifier dropout must be in [0, 1), got %f", c.ClassifierDropout)
	}
	return nil
}

// Snapshot returns the serializable model-configuration fields persisted as
// config.json next to each checkpoint. Runtime-only state (device handle,
// derived weights) is excluded so the snapshot stays loadable.
func (c *Config) Snapshot(label2id map[string]int, id2label map[int]string) map[string]interface{} {
	return map[string]interface{}{
		"model_kind":         string(c.ModelKind),
		"problem_type":       string(c.ProblemType),
		"loss_type":          string(c.LossType),
		"num_labels":         c.NumLabels,
		"hidden_size":        c.HiddenSize,
		"max_length":         c.MaxLength,
		"classifier_dropout": c.ClassifierDropout,
		"label2id":           label2id,
		"id2label":           id2label,
	}
}
