package tokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVocab(t *testing.T, tokens []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	var content string
	for _, tok := range tokens {
		content += tok + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testVocab(t *testing.T) string {
	return writeVocab(t, []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]",
		"hello", "world", "play", "##ing", ",",
	})
}

func TestLoad(t *testing.T) {
	tok, err := Load(testVocab(t), 8)
	require.NoError(t, err)
	assert.Equal(t, 9, tok.VocabSize())
	assert.Equal(t, 8, tok.MaxLength())
	assert.Equal(t, int32(0), tok.PadID())
}

func TestLoadRejectsMissingSpecials(t *testing.T) {
	path := writeVocab(t, []string{"[PAD]", "[UNK]", "[CLS]", "hello"})
	_, err := Load(path, 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[SEP]")
}

func TestLoadRejectsTinyMaxLength(t *testing.T) {
	_, err := Load(testVocab(t), 2)
	require.Error(t, err)
}

func TestEncodeBasic(t *testing.T) {
	tok, err := Load(testVocab(t), 8)
	require.NoError(t, err)

	enc := tok.Encode("Hello, world")
	// [CLS] hello , world [SEP] [PAD] [PAD] [PAD]
	assert.Equal(t, []int32{2, 4, 8, 5, 3, 0, 0, 0}, enc.InputIDs)
	assert.Equal(t, []int32{1, 1, 1, 1, 1, 0, 0, 0}, enc.AttentionMask)
	assert.Equal(t, []int32{0, 0, 0, 0, 0, 0, 0, 0}, enc.TokenTypeIDs)
}

func TestEncodeWordPieces(t *testing.T) {
	tok, err := Load(testVocab(t), 8)
	require.NoError(t, err)

	enc := tok.Encode("playing")
	// [CLS] play ##ing [SEP]
	assert.Equal(t, []int32{2, 6, 7, 3}, enc.InputIDs[:4])
}

func TestEncodeUnknownWord(t *testing.T) {
	tok, err := Load(testVocab(t), 8)
	require.NoError(t, err)

	enc := tok.Encode("zzzzz")
	// [CLS] [UNK] [SEP]
	assert.Equal(t, []int32{2, 1, 3}, enc.InputIDs[:3])
}

func TestEncodeTruncates(t *testing.T) {
	tok, err := Load(testVocab(t), 5)
	require.NoError(t, err)

	enc := tok.Encode("hello world hello world hello")
	assert.Len(t, enc.InputIDs, 5)
	// The last real position is always [SEP].
	assert.Equal(t, int32(2), enc.InputIDs[0])
	assert.Equal(t, int32(3), enc.InputIDs[4])
	for _, m := range enc.AttentionMask {
		assert.Equal(t, int32(1), m)
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"Hello, world", []string{"hello", ",", "world"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{"a+b", []string{"a", "+", "b"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, splitWords(tt.input), "input %q", tt.input)
	}
}
