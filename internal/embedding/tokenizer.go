package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Tokenizer produces BERT-style model inputs (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// BERT special tokens and vocabulary size for MiniLM-family models.
const (
	tokenCLS  = 101
	tokenSEP  = 102
	vocabSize = 30522
	// first id past [unused] and special tokens
	vocabStart = 1000
)

// HashTokenizer lowercases text, splits on anything that is not a letter or digit and
// maps each word to a stable id in the model's vocabulary range.
type HashTokenizer struct{}

// Tokenize returns maxTokens-long inputs: [CLS] words... [SEP] then padding.
func (HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, w := range Words(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = wordID(w)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// Words lowercases text and splits it on non-alphanumeric runes.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordID(w string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(w))
	return int64(vocabStart + h.Sum32()%(vocabSize-vocabStart))
}
