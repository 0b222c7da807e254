package model

import (
	"fmt"

	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/tensor"
)

// SequenceClassifier scores sentences against the label set: an encoder, a
// dropout, and a linear classification head. The model kind selects how the
// loss treats class imbalance and whether a label-correlation head refines
// the logits.
type SequenceClassifier struct {
	kind        config.ModelKind
	problemType config.ProblemType
	lossType    config.LossType

	encoder     *Encoder
	dropout     *Dropout
	classifier  *Linear
	correlation *Linear // only for KindCorrelation

	labelWeights []float32 // only for KindCostWeighted
	device       tensor.DeviceType
	training     bool
}

// NewSequenceClassifier builds a classifier for the given configuration and
// tokenizer vocabulary size.
func NewSequenceClassifier(cfg *config.Config, vocabSize int) (*SequenceClassifier, error) {
	if cfg.NumLabels <= 0 {
		return nil, fmt.Errorf("classifier requires a positive label count, got %d", cfg.NumLabels)
	}

	encoder, err := NewEncoder(vocabSize, cfg.HiddenSize, cfg.Device)
	if err != nil {
		return nil, err
	}
	head, err := NewLinear(cfg.HiddenSize, cfg.NumLabels, true, cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification head: %v", err)
	}

	m := &SequenceClassifier{
		kind:        cfg.ModelKind,
		problemType: cfg.ProblemType,
		lossType:    cfg.LossType,
		encoder:     encoder,
		dropout:     NewDropout(cfg.ClassifierDropout),
		classifier:  head,
		device:      cfg.Device,
		training:    true,
	}

	switch cfg.ModelKind {
	case config.KindStandard:
	case config.KindCostWeighted:
		m.labelWeights = cfg.LabelWeights
	case config.KindCorrelation:
		corr, err := NewLinear(cfg.NumLabels, cfg.NumLabels, true, cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to create correlation head: %v", err)
		}
		m.correlation = corr
	default:
		return nil, fmt.Errorf("unknown model kind %q", cfg.ModelKind)
	}
	return m, nil
}

// Kind returns the model variant this classifier was built as.
func (m *SequenceClassifier) Kind() config.ModelKind {
	return m.kind
}

// Device returns the device the model parameters live on. Input batches must
// be moved there before Forward.
func (m *SequenceClassifier) Device() tensor.DeviceType {
	return m.device
}

// Forward computes logits [batch, labels] from the collated batch inputs.
// It expects "input_ids" and "attention_mask" entries.
func (m *SequenceClassifier) Forward(inputs map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	ids, ok := inputs["input_ids"]
	if !ok {
		return nil, fmt.Errorf("batch is missing input_ids")
	}
	mask, ok := inputs["attention_mask"]
	if !ok {
		return nil, fmt.Errorf("batch is missing attention_mask")
	}

	pooled, err := m.encoder.Forward(ids, mask)
	if err != nil {
		return nil, err
	}
	dropped, err := m.dropout.Forward(pooled)
	if err != nil {
		return nil, err
	}
	logits, err := m.classifier.Forward(dropped)
	if err != nil {
		return nil, err
	}

	if m.correlation != nil {
		// Refine logits with a residual pass over the sigmoid label
		// activations so co-occurring labels reinforce each other.
		probs, err := tensor.SigmoidAutograd(logits)
		if err != nil {
			return nil, err
		}
		corr, err := m.correlation.Forward(probs)
		if err != nil {
			return nil, err
		}
		logits, err = tensor.AddAutograd(logits, corr)
		if err != nil {
			return nil, err
		}
	}
	return logits, nil
}

// ComputeLoss dispatches to the loss matching the problem type and, for
// multi-label, the configured loss type. The cost-weighted variant folds the
// training-count label weights into cross-entropy and BCE. ZLPR already
// balances positives against negatives per sample, so it stays unweighted.
func (m *SequenceClassifier) ComputeLoss(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	switch m.problemType {
	case config.SingleLabel:
		return NewCrossEntropyLoss(m.labelWeights).Compute(logits, labels)
	case config.MultiLabel:
		switch m.lossType {
		case config.BCE:
			return NewBCEWithLogitsLoss(m.labelWeights).Compute(logits, labels)
		case config.ZLPR:
			return NewZLPRLoss().Compute(logits, labels)
		default:
			return nil, fmt.Errorf("loss_type must be ZLPR or BCE")
		}
	default:
		return nil, fmt.Errorf("unknown problem type %q", m.problemType)
	}
}

func (m *SequenceClassifier) Parameters() []*tensor.Tensor {
	params := append([]*tensor.Tensor{}, m.encoder.Parameters()...)
	params = append(params, m.classifier.Parameters()...)
	if m.correlation != nil {
		params = append(params, m.correlation.Parameters()...)
	}
	return params
}

// NamedParameters returns every trainable parameter under a stable dotted
// path. Checkpoints and optimizer parameter groups key off these names.
func (m *SequenceClassifier) NamedParameters() []NamedParameter {
	named := m.encoder.NamedParameters("encoder")
	named = append(named, m.classifier.NamedParameters("classifier")...)
	if m.correlation != nil {
		named = append(named, m.correlation.NamedParameters("correlation")...)
	}
	return named
}

func (m *SequenceClassifier) Train() {
	m.training = true
	m.encoder.Train()
	m.dropout.Train()
	m.classifier.Train()
	if m.correlation != nil {
		m.correlation.Train()
	}
}

func (m *SequenceClassifier) Eval() {
	m.training = false
	m.encoder.Eval()
	m.dropout.Eval()
	m.classifier.Eval()
	if m.correlation != nil {
		m.correlation.Eval()
	}
}

func (m *SequenceClassifier) IsTraining() bool { return m.training }
