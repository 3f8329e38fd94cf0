package session

import "github.com/conorfennell/kartuli/internal/domain"

// Iterator walks a working set one item at a time.
type Iterator struct {
	items     []domain.CatalogItem
	index     map[string]int
	processed map[string]struct{}
	learned   map[string]struct{}
}

// NewIterator returns an iterator over items. Duplicate ids keep their first
// occurrence only.
func NewIterator(items []domain.CatalogItem) *Iterator {
	it := &Iterator{
		items:     make([]domain.CatalogItem, 0, len(items)),
		index:     make(map[string]int, len(items)),
		processed: make(map[string]struct{}, len(items)),
		learned:   make(map[string]struct{}),
	}
	for _, item := range items {
		if _, dup := it.index[item.ID]; dup {
			continue
		}
		it.index[item.ID] = len(it.items)
		it.items = append(it.items, item)
	}
	return it
}

// Current returns the first item of the working set not processed yet.
func (it *Iterator) Current() (domain.CatalogItem, bool) {
	for _, item := range it.items {
		if _, done := it.processed[item.ID]; !done {
			return item, true
		}
	}
	return domain.CatalogItem{}, false
}

// Item looks up an item of the working set by id.
func (it *Iterator) Item(id string) (domain.CatalogItem, bool) {
	i, ok := it.index[id]
	if !ok {
		return domain.CatalogItem{}, false
	}
	return it.items[i], true
}

// Contains reports whether id belongs to the working set.
func (it *Iterator) Contains(id string) bool {
	_, ok := it.index[id]
	return ok
}

// IsProcessed reports whether id has been moved past.
func (it *Iterator) IsProcessed(id string) bool {
	_, ok := it.processed[id]
	return ok
}

// Advance marks id as processed, and as learned this session when learned is
// set. It returns false when id was already processed, and ErrUnknownItem
// when id is not part of the working set.
func (it *Iterator) Advance(id string, learned bool) (bool, error) {
	if !it.Contains(id) {
		return false, ErrUnknownItem
	}
	if it.IsProcessed(id) {
		return false, nil
	}
	it.processed[id] = struct{}{}
	if learned {
		it.learned[id] = struct{}{}
	}
	return true, nil
}

// IsComplete reports whether every item of the working set was processed.
// processed only ever holds ids of the working set, so comparing sizes is
// equivalent to comparing the sets.
func (it *Iterator) IsComplete() bool {
	return len(it.processed) == len(it.items)
}

// Processed returns how many items were moved past.
func (it *Iterator) Processed() int { return len(it.processed) }

// Total returns the size of the working set.
func (it *Iterator) Total() int { return len(it.items) }

// SessionLearned returns how many items were marked learned this session.
func (it *Iterator) SessionLearned() int { return len(it.learned) }

// Items returns the working set in presentation order.
func (it *Iterator) Items() []domain.CatalogItem {
	out := make([]domain.CatalogItem, len(it.items))
	copy(out, it.items)
	return out
}
