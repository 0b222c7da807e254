package model

import (
	"fmt"

	"github.com/tsawler/go-textclass/tensor"
)

// Encoder turns token ids into a fixed-size sentence representation: token
// embeddings followed by attention-mask-aware mean pooling, so padding
// positions never contribute to the pooled vector.
type Encoder struct {
	embedding *Embedding
	hidden    int
	training  bool
}

// NewEncoder creates an encoder over a vocabulary of the given size.
func NewEncoder(vocabSize, hidden int, device tensor.DeviceType) (*Encoder, error) {
	emb, err := NewEmbedding(vocabSize, hidden, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder embedding: %v", err)
	}
	return &Encoder{embedding: emb, hidden: hidden, training: true}, nil
}

// HiddenSize returns the width of the pooled representation.
func (e *Encoder) HiddenSize() int {
	return e.hidden
}

// Forward encodes ids [batch, seq] with attentionMask [batch, seq] into a
// pooled [batch, hidden] tensor.
func (e *Encoder) Forward(ids, attentionMask *tensor.Tensor) (*tensor.Tensor, error) {
	embedded, err := e.embedding.Forward(ids)
	if err != nil {
		return nil, err
	}
	pooled, err := tensor.MaskedMeanAutograd(embedded, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("mean pooling failed: %v", err)
	}
	return pooled, nil
}

func (e *Encoder) Parameters() []*tensor.Tensor {
	return e.embedding.Parameters()
}

func (e *Encoder) NamedParameters(prefix string) []NamedParameter {
	return e.embedding.NamedParameters(prefix + ".embedding")
}

func (e *Encoder) Train() {
	e.training = true
	e.embedding.Train()
}

func (e *Encoder) Eval() {
	e.training = false
	e.embedding.Eval()
}

func (e *Encoder) IsTraining() bool { return e.training }
