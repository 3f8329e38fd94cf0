package session

import (
	"math/rand"

	"github.com/conorfennell/kartuli/internal/domain"
)

// Policy configures how one course draws and scores its sessions.
type Policy struct {
	Size    int
	Shuffle bool
	Variant domain.MasteryVariant
	// Replay draws from the whole catalog once every item is learned.
	Replay bool
}

// PolicyFor returns the policy of a course kind. size applies to every kind
// except sentences, which use sentenceSize.
func PolicyFor(kind domain.CourseKind, size, sentenceSize int) Policy {
	switch kind {
	case domain.KindSentences:
		return Policy{Size: sentenceSize, Shuffle: true, Variant: domain.Streak, Replay: true}
	case domain.KindNumbers:
		// Numbers build on each other and keep catalog order.
		return Policy{Size: size, Shuffle: false, Variant: domain.Binary}
	default:
		return Policy{Size: size, Shuffle: true, Variant: kind.Variant()}
	}
}

// Select computes the working set for one session: the unlearned items of the
// catalog, optionally shuffled, truncated to the policy size. The catalog is
// not modified.
func Select(catalog []domain.CatalogItem, learned map[string]struct{}, p Policy, rng *rand.Rand) []domain.CatalogItem {
	unlearned := make([]domain.CatalogItem, 0, len(catalog))
	for _, item := range catalog {
		if _, ok := learned[item.ID]; !ok {
			unlearned = append(unlearned, item)
		}
	}

	if len(unlearned) == 0 && p.Replay {
		unlearned = append(unlearned, catalog...)
	}

	if p.Shuffle {
		rng.Shuffle(len(unlearned), func(i, j int) {
			unlearned[i], unlearned[j] = unlearned[j], unlearned[i]
		})
	}

	if p.Size >= 0 && len(unlearned) > p.Size {
		unlearned = unlearned[:p.Size]
	}
	return unlearned
}
