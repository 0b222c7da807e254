package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/tensor"
	"github.com/tsawler/go-textclass/tokenizer"
)

func testTokenizer(t *testing.T) *tokenizer.Tokenizer {
	t.Helper()
	path := writeFile(t, "vocab.txt", "[PAD]\n[UNK]\n[CLS]\n[SEP]\ngood\nbad\nmovie\n")
	tok, err := tokenizer.Load(path, 8)
	require.NoError(t, err)
	return tok
}

func testDataset(t *testing.T) *Dataset {
	t.Helper()
	path := writeFile(t, "data.json",
		`{"sentence": "good movie", "label": "A"}
{"sentence": "bad movie", "label": "B"}
{"sentence": "good good", "label": "A"}
`)
	ds, err := Load(path)
	require.NoError(t, err)
	return ds
}

func TestDataLoaderBatching(t *testing.T) {
	vocab := testVocabulary(t)
	tok := testTokenizer(t)
	ds := testDataset(t)

	dl, err := NewDataLoader(ds, tok, vocab, config.SingleLabel, 2, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, dl.Len())
	assert.Equal(t, 3, dl.NumExamples())

	// First batch is full, second holds the remainder.
	batch, err := dl.Next()
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, 2, batch.Size)
	assert.Equal(t, []int{2, 8}, batch.Inputs["input_ids"].Shape)
	assert.Equal(t, []int{2, 8}, batch.Inputs["attention_mask"].Shape)
	assert.Equal(t, tensor.Float32, batch.Inputs["attention_mask"].DType)

	batch, err = dl.Next()
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, 1, batch.Size)

	assert.False(t, dl.HasNext())
	batch, err = dl.Next()
	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestDataLoaderSingleLabelTargets(t *testing.T) {
	vocab := testVocabulary(t)
	tok := testTokenizer(t)
	ds := testDataset(t)

	dl, err := NewDataLoader(ds, tok, vocab, config.SingleLabel, 3, false, false)
	require.NoError(t, err)

	batch, err := dl.Next()
	require.NoError(t, err)
	require.Equal(t, tensor.Int32, batch.Labels.DType)

	labels, err := batch.Labels.GetInt32Data()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 0}, labels)
}

func TestDataLoaderMultiLabelTargets(t *testing.T) {
	vocab := testVocabulary(t)
	tok := testTokenizer(t)
	path := writeFile(t, "data.json",
		`{"sentence": "good movie", "labels": ["A", "C"]}
{"sentence": "bad movie", "labels": ["B"]}
`)
	ds, err := Load(path)
	require.NoError(t, err)

	dl, err := NewDataLoader(ds, tok, vocab, config.MultiLabel, 2, false, false)
	require.NoError(t, err)

	batch, err := dl.Next()
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, batch.Labels.Shape)

	hot, err := batch.Labels.GetFloat32Data()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 1, 0, 1, 0}, hot)
}

func TestDataLoaderUnknownLabel(t *testing.T) {
	vocab := testVocabulary(t)
	tok := testTokenizer(t)
	path := writeFile(t, "data.json", `{"sentence": "good", "label": "Z"}`+"\n")
	ds, err := Load(path)
	require.NoError(t, err)

	dl, err := NewDataLoader(ds, tok, vocab, config.SingleLabel, 1, false, false)
	require.NoError(t, err)

	_, err = dl.Next()
	assert.Error(t, err)
}

func TestDataLoaderSentences(t *testing.T) {
	vocab := testVocabulary(t)
	tok := testTokenizer(t)
	ds := testDataset(t)

	dl, err := NewDataLoader(ds, tok, vocab, config.SingleLabel, 3, false, true)
	require.NoError(t, err)

	batch, err := dl.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"good movie", "bad movie", "good good"}, batch.Sentences)

	// Sentences pass through device transfer.
	moved, err := batch.To(tensor.CPU)
	require.NoError(t, err)
	assert.Equal(t, batch.Sentences, moved.Sentences)
}

func TestDataLoaderShuffleKeepsAllExamples(t *testing.T) {
	vocab := testVocabulary(t)
	tok := testTokenizer(t)
	ds := testDataset(t)

	tensor.SetRandomSeed(7)
	dl, err := NewDataLoader(ds, tok, vocab, config.SingleLabel, 1, true, true)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for dl.HasNext() {
		batch, err := dl.Next()
		require.NoError(t, err)
		seen[batch.Sentences[0]] = true
	}
	assert.Len(t, seen, 3)
}
