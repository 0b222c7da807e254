// Package tokenizer implements a WordPiece-style vocabulary tokenizer
// compatible with BERT-family vocab files (one token per line).
package tokenizer

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
	ClsToken = "[CLS]"
	SepToken = "[SEP]"
)

// maxWordChars guards the greedy matcher against pathological words.
const maxWordChars = 100

// Tokenizer maps sentences to fixed-length id sequences.
type Tokenizer struct {
	vocab     map[string]int32
	maxLength int

	padID int32
	unkID int32
	clsID int32
	sepID int32
}

// Encoding is one tokenized sentence, padded or truncated to the configured
// maximum length.
type Encoding struct {
	InputIDs      []int32
	AttentionMask []int32
	TokenTypeIDs  []int32
}

// Load reads a vocab file (one token per line, line number = id) and returns
// a tokenizer producing sequences of maxLength ids.
func Load(path string, maxLength int) (*Tokenizer, error) {
	if maxLength < 3 {
		return nil, errors.Errorf("max length %d leaves no room for [CLS] and [SEP]", maxLength)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open vocab file")
	}
	defer f.Close()

	vocab := make(map[string]int32)
	scanner := bufio.NewScanner(f)
	var id int32
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		if token == "" {
			continue
		}
		if _, ok := vocab[token]; ok {
			return nil, errors.Errorf("duplicate token %q in vocab file", token)
		}
		vocab[token] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read vocab file")
	}

	t := &Tokenizer{vocab: vocab, maxLength: maxLength}
	for _, req := range []struct {
		token string
		dst   *int32
	}{
		{PadToken, &t.padID},
		{UnkToken, &t.unkID},
		{ClsToken, &t.clsID},
		{SepToken, &t.sepID},
	} {
		v, ok := vocab[req.token]
		if !ok {
			return nil, errors.Errorf("vocab file is missing required token %s", req.token)
		}
		*req.dst = v
	}
	return t, nil
}

// VocabSize returns the number of entries in the vocabulary.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// MaxLength returns the fixed sequence length of every encoding.
func (t *Tokenizer) MaxLength() int {
	return t.maxLength
}

// PadID returns the id of the padding token.
func (t *Tokenizer) PadID() int32 {
	return t.padID
}

// Encode tokenizes one sentence into [CLS] tokens... [SEP], truncating and
// padding to the configured max length.
func (t *Tokenizer) Encode(sentence string) Encoding {
	ids := make([]int32, 0, t.maxLength)
	ids = append(ids, t.clsID)

	for _, word := range splitWords(sentence) {
		for _, id := range t.wordPieceIDs(word) {
			ids = append(ids, id)
			if len(ids) == t.maxLength-1 {
				break
			}
		}
		if len(ids) == t.maxLength-1 {
			break
		}
	}
	ids = append(ids, t.sepID)

	enc := Encoding{
		InputIDs:      make([]int32, t.maxLength),
		AttentionMask: make([]int32, t.maxLength),
		TokenTypeIDs:  make([]int32, t.maxLength),
	}
	for i := range enc.InputIDs {
		if i < len(ids) {
			enc.InputIDs[i] = ids[i]
			enc.AttentionMask[i] = 1
		} else {
			enc.InputIDs[i] = t.padID
		}
	}
	return enc
}

// wordPieceIDs splits a single word into greedy longest-match subword ids,
// falling back to [UNK] when no prefix matches.
func (t *Tokenizer) wordPieceIDs(word string) []int32 {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int32{t.unkID}
	}

	var ids []int32
	start := 0
	for start < len(runes) {
		end := len(runes)
		var match int32 = -1
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if id, ok := t.vocab[candidate]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			return []int32{t.unkID}
		}
		ids = append(ids, match)
		start = end
	}
	return ids
}

// splitWords lowercases and splits on whitespace, treating punctuation as
// standalone words the way BERT's basic tokenizer does.
func splitWords(sentence string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(sentence) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}
