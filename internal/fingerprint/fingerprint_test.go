package fingerprint

import (
	"testing"

	"github.com/conorfennell/kartuli/internal/domain"
)

func TestNormalize(t *testing.T) {
	item := domain.CatalogItem{
		ID: "7",
		Fields: map[string]string{
			"georgian": "  გამარჯობა \r\n",
			"English":  "Hello",
		},
		FakeWords: []string{"Nakhvamdis", "კი"},
	}
	expected := "7\nenglish=hello\ngeorgian=გამარჯობა\nfake=nakhvamdis,კი"

	if got := Normalize(item); got != expected {
		t.Errorf("Expected normalized string to be %q, but got %q", expected, got)
	}
}

func TestItem(t *testing.T) {
	t.Run("fingerprint is deterministic", func(t *testing.T) {
		a := domain.CatalogItem{ID: "1", Fields: map[string]string{"character": "ა", "pronunciation": "a"}}
		b := domain.CatalogItem{ID: "1", Fields: map[string]string{"pronunciation": "a", "character": "ა"}}
		if Item(a) != Item(b) {
			t.Error("Expected identical items to share a fingerprint regardless of map order")
		}
	})

	t.Run("normalization produces same fingerprint", func(t *testing.T) {
		a := domain.CatalogItem{ID: "1", Fields: map[string]string{"english": "  Hello "}}
		b := domain.CatalogItem{ID: "1", Fields: map[string]string{"english": "hello"}}
		if Item(a) != Item(b) {
			t.Error("Expected fingerprints to match after normalization")
		}
	})

	t.Run("order does not change the fingerprint", func(t *testing.T) {
		a := domain.CatalogItem{ID: "1", Order: 1, Fields: map[string]string{"number": "1"}}
		b := domain.CatalogItem{ID: "1", Order: 9, Fields: map[string]string{"number": "1"}}
		if Item(a) != Item(b) {
			t.Error("Expected order to be ignored")
		}
	})

	t.Run("different content gives different fingerprints", func(t *testing.T) {
		a := domain.CatalogItem{ID: "1", Fields: map[string]string{"number": "1"}}
		b := domain.CatalogItem{ID: "1", Fields: map[string]string{"number": "2"}}
		if Item(a) == Item(b) {
			t.Error("Expected different fingerprints for different payloads")
		}
	})

	t.Run("fake words are part of the fingerprint", func(t *testing.T) {
		a := domain.CatalogItem{ID: "1", Fields: map[string]string{"english": "yes"}}
		b := domain.CatalogItem{ID: "1", Fields: map[string]string{"english": "yes"}, FakeWords: []string{"არა"}}
		if Item(a) == Item(b) {
			t.Error("Expected fake words to change the fingerprint")
		}
	})
}
