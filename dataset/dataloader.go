package dataset

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/tensor"
	"github.com/tsawler/go-textclass/tokenizer"
)

// Batch is one collated mini-batch: the tokenized-input tensors, a label
// tensor whose shape depends on the problem type, and the raw sentences
// (only collected outside training).
type Batch struct {
	Inputs    map[string]*tensor.Tensor
	Labels    *tensor.Tensor
	Sentences []string
	Size      int
}

// To moves every tensor in the batch onto the target device and returns a
// new batch. Sentences pass through unchanged.
func (b *Batch) To(device tensor.DeviceType) (*Batch, error) {
	inputs := make(map[string]*tensor.Tensor, len(b.Inputs))
	for name, t := range b.Inputs {
		moved, err := t.ToDevice(device)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to move %s to %s", name, device)
		}
		inputs[name] = moved
	}

	labels, err := b.Labels.ToDevice(device)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to move labels to %s", device)
	}

	return &Batch{
		Inputs:    inputs,
		Labels:    labels,
		Sentences: b.Sentences,
		Size:      b.Size,
	}, nil
}

// DataLoader batches a dataset through the tokenizer. Shuffling reorders the
// index permutation at each Reset; it is disabled when paired forward passes
// need a fixed ordering.
type DataLoader struct {
	examples      []Example
	tok           *tokenizer.Tokenizer
	vocab         *LabelVocabulary
	problem       config.ProblemType
	batchSize     int
	shuffle       bool
	withSentences bool

	indices  []int
	position int
	mutex    sync.Mutex
}

// NewDataLoader creates a loader over ds. withSentences controls whether the
// raw sentence strings ride along in each batch (evaluation/predict modes).
func NewDataLoader(
	ds *Dataset,
	tok *tokenizer.Tokenizer,
	vocab *LabelVocabulary,
	problem config.ProblemType,
	batchSize int,
	shuffle bool,
	withSentences bool,
) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if ds.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		examples:      ds.Examples,
		tok:           tok,
		vocab:         vocab,
		problem:       problem,
		batchSize:     batchSize,
		shuffle:       shuffle,
		withSentences: withSentences,
		indices:       indices,
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	return (len(dl.examples) + dl.batchSize - 1) / dl.batchSize
}

// NumExamples returns the number of examples in the underlying dataset.
func (dl *DataLoader) NumExamples() int {
	return len(dl.examples)
}

// Reset rewinds the loader for a new epoch, reshuffling if enabled.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := int(tensor.RandFloat64() * float64(i+1))
			if j > i {
				j = i
			}
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// HasNext reports whether the current epoch has batches left.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Next returns the next batch, or nil at the end of the epoch.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:end]
	dl.position = end

	return dl.collate(batchIndices)
}

// collate tokenizes and stacks a batch of examples.
func (dl *DataLoader) collate(indices []int) (*Batch, error) {
	batchSize := len(indices)
	seqLen := dl.tok.MaxLength()

	inputIDs := make([]int32, batchSize*seqLen)
	attentionMask := make([]float32, batchSize*seqLen)
	tokenTypeIDs := make([]int32, batchSize*seqLen)
	var sentences []string

	for i, idx := range indices {
		ex := dl.examples[idx]
		enc := dl.tok.Encode(ex.Sentence)
		copy(inputIDs[i*seqLen:], enc.InputIDs)
		copy(tokenTypeIDs[i*seqLen:], enc.TokenTypeIDs)
		for j, m := range enc.AttentionMask {
			attentionMask[i*seqLen+j] = float32(m)
		}
		if dl.withSentences {
			sentences = append(sentences, ex.Sentence)
		}
	}

	labels, err := dl.collateLabels(indices)
	if err != nil {
		return nil, err
	}

	idTensor, err := tensor.NewTensor([]int{batchSize, seqLen}, tensor.Int32, tensor.CPU, inputIDs)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build input_ids tensor")
	}
	maskTensor, err := tensor.NewTensor([]int{batchSize, seqLen}, tensor.Float32, tensor.CPU, attentionMask)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build attention_mask tensor")
	}
	typeTensor, err := tensor.NewTensor([]int{batchSize, seqLen}, tensor.Int32, tensor.CPU, tokenTypeIDs)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build token_type_ids tensor")
	}

	return &Batch{
		Inputs: map[string]*tensor.Tensor{
			"input_ids":      idTensor,
			"attention_mask": maskTensor,
			"token_type_ids": typeTensor,
		},
		Labels:    labels,
		Sentences: sentences,
		Size:      batchSize,
	}, nil
}

// collateLabels builds the label tensor: Int32 class indices for
// single-label, a Float32 multi-hot matrix for multi-label.
func (dl *DataLoader) collateLabels(indices []int) (*tensor.Tensor, error) {
	batchSize := len(indices)

	if dl.problem == config.SingleLabel {
		classes := make([]int32, batchSize)
		for i, idx := range indices {
			ex := dl.examples[idx]
			id, ok := dl.vocab.ID(ex.Labels[0])
			if !ok {
				return nil, errors.Errorf("unknown label %q in example %q", ex.Labels[0], ex.Sentence)
			}
			classes[i] = int32(id)
		}
		return tensor.NewTensor([]int{batchSize}, tensor.Int32, tensor.CPU, classes)
	}

	numLabels := dl.vocab.Size()
	hot := make([]float32, batchSize*numLabels)
	for i, idx := range indices {
		row, err := dl.vocab.MultiHot(dl.examples[idx].Labels)
		if err != nil {
			return nil, errors.Wrapf(err, "example %q", dl.examples[idx].Sentence)
		}
		copy(hot[i*numLabels:], row)
	}
	return tensor.NewTensor([]int{batchSize, numLabels}, tensor.Float32, tensor.CPU, hot)
}
