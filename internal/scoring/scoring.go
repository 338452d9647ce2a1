// Package scoring compares transcripts with reference texts.
package scoring

import (
	"strings"
	"unicode"

	"github.com/omnilingual-asr/transcriber/internal/models"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

var unitCost = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: func(a, b rune) bool { return a == b },
}

// WER returns the word error rate of hypothesis against reference:
// (substitutions + insertions + deletions) / reference words.
// An empty reference scores 0 against an empty hypothesis and 1 otherwise.
func WER(reference, hypothesis string) float64 {
	ref := words(reference)
	hyp := words(hypothesis)
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}

	// Each distinct word becomes one rune so the rune distance counts words.
	symbols := make(map[string]rune)
	encode := func(ws []string) []rune {
		out := make([]rune, len(ws))
		for i, w := range ws {
			r, ok := symbols[w]
			if !ok {
				r = rune(0xF0000 + len(symbols))
				symbols[w] = r
			}
			out[i] = r
		}
		return out
	}

	dist := levenshtein.DistanceForStrings(encode(ref), encode(hyp), unitCost)
	return float64(dist) / float64(len(ref))
}

// CER returns the character error rate of hypothesis against reference.
func CER(reference, hypothesis string) float64 {
	ref := []rune(strings.Join(words(reference), " "))
	hyp := []rune(strings.Join(words(hypothesis), " "))
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}

	dist := levenshtein.DistanceForStrings(ref, hyp, unitCost)
	return float64(dist) / float64(len(ref))
}

// Score computes both rates. It returns nil when there is no reference.
func Score(reference, hypothesis string) *models.Score {
	if strings.TrimSpace(reference) == "" {
		return nil
	}
	return &models.Score{
		WER: WER(reference, hypothesis),
		CER: CER(reference, hypothesis),
	}
}

// words lower-cases and splits text, dropping surrounding punctuation.
func words(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, unicode.IsPunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
