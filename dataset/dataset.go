// Package dataset loads classification examples and batches them through the
// tokenizer into device-ready tensors.
package dataset

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Example is one sentence with its label(s). Single-label examples carry
// exactly one name in Labels.
type Example struct {
	Sentence string
	Labels   []string
}

// Dataset is an in-memory example collection.
type Dataset struct {
	Examples []Example
}

// rawExample accepts both the single-label and multi-label JSON-lines layouts.
type rawExample struct {
	Sentence string   `json:"sentence"`
	Label    string   `json:"label"`
	Labels   []string `json:"labels"`
}

// Load reads a JSON-lines file where each line is
// {"sentence": ..., "label": ...} or {"sentence": ..., "labels": [...]}.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open data file")
	}
	defer f.Close()

	var examples []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var raw rawExample
		if err := json.Unmarshal(text, &raw); err != nil {
			return nil, errors.Wrapf(err, "unable to parse %s line %d", path, line)
		}
		if raw.Sentence == "" {
			return nil, errors.Errorf("%s line %d has no sentence", path, line)
		}

		labels := raw.Labels
		if len(labels) == 0 && raw.Label != "" {
			labels = []string{raw.Label}
		}
		if len(labels) == 0 {
			return nil, errors.Errorf("%s line %d has no label", path, line)
		}

		examples = append(examples, Example{Sentence: raw.Sentence, Labels: labels})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read data file")
	}
	if len(examples) == 0 {
		return nil, errors.Errorf("data file %s contains no examples", path)
	}

	return &Dataset{Examples: examples}, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Examples)
}
