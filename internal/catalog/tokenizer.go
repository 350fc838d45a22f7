package catalog

import (
	"fmt"
	"strings"

	"github.com/go-ego/gse"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/stringutil"
)

// Tokenizer splits text into index terms.
type Tokenizer func(text string) []string

// Segmenter names accepted by NewTokenizer.
const (
	SegmenterBigram = "bigram"
	SegmenterGSE    = "gse"
)

// BigramTokenizer emits words plus CJK unigrams and bigrams. It needs no
// dictionary and is the default.
func BigramTokenizer(text string) []string {
	return stringutil.Tokenize(text)
}

// NewTokenizer returns the tokenizer named by segmenter. Dictionary files only
// apply to gse; without them gse loads its embedded dictionary.
func NewTokenizer(segmenter string, dictFiles ...string) (Tokenizer, error) {
	switch segmenter {
	case "", SegmenterBigram:
		return BigramTokenizer, nil
	case SegmenterGSE:
		return NewGSETokenizer(dictFiles...)
	default:
		return nil, fmt.Errorf("unknown segmenter %q", segmenter)
	}
}

// NewGSETokenizer builds a dictionary-based Chinese segmenter. Segmented words
// are combined with the bigram terms so that out-of-dictionary product names
// still match.
func NewGSETokenizer(dictFiles ...string) (Tokenizer, error) {
	var seg gse.Segmenter
	seg.SkipLog = true
	if err := seg.LoadDict(dictFiles...); err != nil {
		return nil, fmt.Errorf("load gse dictionary: %w", err)
	}

	return func(text string) []string {
		folded := stringutil.Fold(text)
		tokens := stringutil.Tokenize(folded)
		for _, w := range seg.Cut(folded, true) {
			w = strings.TrimSpace(w)
			if w == "" || stringutil.StripPunct(w) == "" {
				continue
			}
			// Single runes are already covered by the bigram pass.
			if stringutil.RuneLen(w) > 1 {
				tokens = append(tokens, w)
			}
		}
		return tokens
	}, nil
}
