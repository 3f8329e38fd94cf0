// Package answer checks sentences that learners build from a word bank.
package answer

import (
	"math/rand"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/conorfennell/kartuli/internal/domain"
)

// Field names used by sentence items.
const (
	FieldPrompt      = "english"
	FieldTranslation = "georgian"
)

// Normalize folds case, strips combining marks and punctuation, and collapses
// runs of whitespace to single spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsPunct(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens splits a sentence into the words a learner has to place, keeping the
// original spelling of each word.
func Tokens(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, unicode.IsPunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// WordBank returns the translation tokens of item mixed with its fake words,
// shuffled with rng.
func WordBank(item domain.CatalogItem, rng *rand.Rand) []string {
	bank := Tokens(item.Field(FieldTranslation))
	for _, w := range item.FakeWords {
		if w = strings.TrimSpace(w); w != "" {
			bank = append(bank, w)
		}
	}
	rng.Shuffle(len(bank), func(i, j int) {
		bank[i], bank[j] = bank[j], bank[i]
	})
	return bank
}

// Join assembles the tokens a learner picked into a sentence.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// Check reports whether constructed matches expected after normalization.
// There is no partial credit.
func Check(expected, constructed string) bool {
	want := Normalize(expected)
	return want != "" && want == Normalize(constructed)
}
