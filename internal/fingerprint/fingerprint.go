package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/conorfennell/kartuli/internal/domain"
)

// Normalize renders the item's content in a canonical form. Field names are
// sorted, values are trimmed, lowercased and have their line endings folded,
// and fake words are appended in file order.
func Normalize(item domain.CatalogItem) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	keys := make([]string, 0, len(item.Fields))
	for k := range item.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+2)
	parts = append(parts, normalizePart(item.ID))
	for _, k := range keys {
		parts = append(parts, normalizePart(k)+"="+normalizePart(item.Fields[k]))
	}

	fakes := make([]string, 0, len(item.FakeWords))
	for _, w := range item.FakeWords {
		fakes = append(fakes, normalizePart(w))
	}
	parts = append(parts, "fake="+strings.Join(fakes, ","))

	// Newline-joined so that adjacent fields can never run together.
	return strings.Join(parts, "\n")
}

// Item returns the SHA-256 hex digest of the normalized item. Order is not
// part of the fingerprint; moving an item does not count as changing it.
func Item(item domain.CatalogItem) string {
	sum := sha256.Sum256([]byte(Normalize(item)))
	return fmt.Sprintf("%x", sum)
}
