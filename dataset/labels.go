package dataset

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// LabelVocabulary is the bidirectional label name <-> id mapping. It is
// loaded once at startup and immutable afterwards; ids are the contiguous
// range [0, Size()).
type LabelVocabulary struct {
	nameToID map[string]int
	idToName []string
}

// LoadLabelVocabulary reads a JSON object mapping label name -> integer id.
func LoadLabelVocabulary(path string) (*LabelVocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read label file")
	}

	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "unable to parse label file")
	}
	if len(raw) == 0 {
		return nil, errors.New("label file contains no labels")
	}

	idToName := make([]string, len(raw))
	for name, id := range raw {
		if id < 0 || id >= len(raw) {
			return nil, errors.Errorf("label %q has id %d outside [0, %d)", name, id, len(raw))
		}
		if idToName[id] != "" {
			return nil, errors.Errorf("labels %q and %q share id %d", idToName[id], name, id)
		}
		idToName[id] = name
	}

	nameToID := make(map[string]int, len(raw))
	for name, id := range raw {
		nameToID[name] = id
	}

	return &LabelVocabulary{nameToID: nameToID, idToName: idToName}, nil
}

// Size returns the number of labels.
func (v *LabelVocabulary) Size() int {
	return len(v.idToName)
}

// ID returns the id for a label name.
func (v *LabelVocabulary) ID(name string) (int, bool) {
	id, ok := v.nameToID[name]
	return id, ok
}

// Name returns the label name for an id.
func (v *LabelVocabulary) Name(id int) (string, error) {
	if id < 0 || id >= len(v.idToName) {
		return "", errors.Errorf("label id %d outside [0, %d)", id, len(v.idToName))
	}
	return v.idToName[id], nil
}

// MultiHot encodes a label name set as a multi-hot vector over the vocabulary.
func (v *LabelVocabulary) MultiHot(names []string) ([]float32, error) {
	hot := make([]float32, len(v.idToName))
	for _, name := range names {
		id, ok := v.nameToID[name]
		if !ok {
			return nil, errors.Errorf("unknown label %q", name)
		}
		hot[id] = 1
	}
	return hot, nil
}

// NameToID returns a copy of the name -> id mapping for config snapshots.
func (v *LabelVocabulary) NameToID() map[string]int {
	out := make(map[string]int, len(v.nameToID))
	for k, val := range v.nameToID {
		out[k] = val
	}
	return out
}

// IDToName returns a copy of the id -> name mapping for config snapshots.
func (v *LabelVocabulary) IDToName() map[int]string {
	out := make(map[int]string, len(v.idToName))
	for id, name := range v.idToName {
		out[id] = name
	}
	return out
}

// trainCounts mirrors the per-class training-count file layout.
type trainCounts struct {
	Train map[string]int `json:"train"`
}

// LoadLabelWeights derives per-label loss weights from a training-count file:
// max(count)/count per label, zero where the count is zero. Weights are
// returned in vocabulary id order.
func LoadLabelWeights(path string, vocab *LabelVocabulary) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read train-count file")
	}

	var counts trainCounts
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, errors.Wrap(err, "unable to parse train-count file")
	}
	if counts.Train == nil {
		return nil, errors.New("train-count file is missing the \"train\" key")
	}

	maxCount := 0
	for _, c := range counts.Train {
		if c > maxCount {
			maxCount = c
		}
	}

	weights := make([]float32, vocab.Size())
	for name, c := range counts.Train {
		id, ok := vocab.ID(name)
		if !ok {
			return nil, errors.Errorf("train-count file names unknown label %q", name)
		}
		if c != 0 {
			weights[id] = float32(maxCount) / float32(c)
		}
	}
	return weights, nil
}
