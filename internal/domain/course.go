package domain

import "sort"

// CourseKind identifies the family of a course. It decides how sessions are
// drawn and how mastery is tracked.
type CourseKind string

const (
	KindAlphabet  CourseKind = "alphabet"
	KindNumbers   CourseKind = "numbers"
	KindWords     CourseKind = "words"
	KindPhrases   CourseKind = "phrases"
	KindSentences CourseKind = "sentences"
)

// Valid reports whether k is one of the known course kinds.
func (k CourseKind) Valid() bool {
	switch k {
	case KindAlphabet, KindNumbers, KindWords, KindPhrases, KindSentences:
		return true
	}
	return false
}

// MasteryVariant selects how an item becomes learned.
type MasteryVariant int

const (
	// Binary items are learned on explicit confirmation.
	Binary MasteryVariant = iota
	// Streak items are learned after a run of correct answers.
	Streak
)

func (v MasteryVariant) String() string {
	if v == Streak {
		return "streak"
	}
	return "binary"
}

// Variant returns the mastery variant used by courses of this kind.
func (k CourseKind) Variant() MasteryVariant {
	if k == KindSentences {
		return Streak
	}
	return Binary
}

// Course is a deck of learning items.
type Course struct {
	ID          string
	Title       string
	Description string
	Icon        string
	Kind        CourseKind
	Order       int
}

// CourseMeta is the summary the catalog exposes for a course.
type CourseMeta struct {
	ID          string
	Title       string
	Description string
	Icon        string
	Kind        CourseKind
	TotalItems  int
}

// CatalogItem is one learnable unit. Fields hold the course-specific payload
// (character and pronunciation, english and georgian, ...).
type CatalogItem struct {
	ID        string
	CourseID  string
	Order     int
	Fields    map[string]string
	FakeWords []string
	Hash      string
}

// Field returns the named payload field or "".
func (it CatalogItem) Field(name string) string {
	return it.Fields[name]
}

// SortItems orders items by Order, then by ID.
func SortItems(items []CatalogItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].ID < items[j].ID
	})
}
