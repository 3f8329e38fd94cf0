package answer

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/kartuli/internal/domain"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases latin", "Hello World", "hello world"},
		{"collapses whitespace", "  გამარჯობა \t  მეგობარო\n", "გამარჯობა მეგობარო"},
		{"strips punctuation", "როგორ ხარ?", "როგორ ხარ"},
		{"folds diacritics", "Café", "cafe"},
		{"empty stays empty", "   ", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.input))
		})
	}
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"მე", "მქვია", "ნინო"}, Tokens("მე მქვია ნინო."))
	assert.Empty(t, Tokens("  "))
}

func TestCheck(t *testing.T) {
	t.Run("exact match after normalization", func(t *testing.T) {
		assert.True(t, Check("გამარჯობა", " გამარჯობა!"))
	})

	t.Run("word order matters", func(t *testing.T) {
		assert.False(t, Check("მე მქვია ნინო", "ნინო მქვია მე"))
	})

	t.Run("missing word is wrong", func(t *testing.T) {
		assert.False(t, Check("მე მქვია ნინო", "მე მქვია"))
	})

	t.Run("empty expected never matches", func(t *testing.T) {
		assert.False(t, Check("", ""))
	})
}

func TestWordBank(t *testing.T) {
	item := domain.CatalogItem{
		ID:        "1",
		Fields:    map[string]string{FieldPrompt: "Hello", FieldTranslation: "გამარჯობა"},
		FakeWords: []string{"ნახვამდის", "მადლობა"},
	}

	bank := WordBank(item, rand.New(rand.NewSource(7)))
	require.Len(t, bank, 3)

	sorted := append([]string(nil), bank...)
	sort.Strings(sorted)
	expected := []string{"გამარჯობა", "მადლობა", "ნახვამდის"}
	sort.Strings(expected)
	assert.Equal(t, expected, sorted)

	// Picking the real tokens in order rebuilds the translation.
	assert.True(t, Check(item.Field(FieldTranslation), Join([]string{"გამარჯობა"})))
}

func TestWordBankIsDeterministicForSeed(t *testing.T) {
	item := domain.CatalogItem{
		Fields:    map[string]string{FieldTranslation: "მე ვარ სტუდენტი"},
		FakeWords: []string{"შენ", "ის"},
	}
	a := WordBank(item, rand.New(rand.NewSource(1)))
	b := WordBank(item, rand.New(rand.NewSource(1)))
	assert.Equal(t, a, b)
}
