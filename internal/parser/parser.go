package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/conorfennell/kartuli/internal/domain"
)

const (
	directivePrefix = "@"
	commentPrefix   = "#"
	separator       = "---"

	keyID        = "id"
	keyOrder     = "order"
	keyFakeWords = "fake_words"
)

var (
	ErrMissingCourse = errors.New("missing @course directive")
	ErrMissingID     = errors.New("item has no id")
	ErrDuplicateID   = errors.New("duplicate item id")
)

// Deck is the parsed content of one deck file.
type Deck struct {
	Course domain.Course
	Items  []domain.CatalogItem
}

type state int

const (
	readingHeader state = iota
	seeking
	readingItem
)

// ParseFile reads a deck from the given path.
func ParseFile(path string) (*Deck, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	deck, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return deck, nil
}

// Parse reads a deck from r. Errors name the offending line.
func Parse(r io.Reader) (*Deck, error) {
	scanner := bufio.NewScanner(r)
	deck := &Deck{}
	seen := make(map[string]int)

	var (
		current     domain.CatalogItem
		currentLine int
		lastKey     string
		explicit    bool
	)
	currentState := readingHeader
	lineNo := 0

	startItem := func() {
		current = domain.CatalogItem{Fields: make(map[string]string)}
		currentLine = lineNo
		lastKey = ""
		explicit = false
	}

	finishItem := func() error {
		if currentState != readingItem {
			return nil
		}
		currentState = seeking
		if current.ID == "" {
			return fmt.Errorf("line %d: %w", currentLine, ErrMissingID)
		}
		if first, ok := seen[current.ID]; ok {
			return fmt.Errorf("line %d: %w %q (first defined on line %d)", currentLine, ErrDuplicateID, current.ID, first)
		}
		seen[current.ID] = currentLine
		if !explicit {
			current.Order = len(deck.Items) + 1
		}
		current.CourseID = deck.Course.ID
		deck.Items = append(deck.Items, current)
		return nil
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, commentPrefix) {
			continue
		}

		if line == separator {
			if err := finishItem(); err != nil {
				return nil, err
			}
			currentState = seeking
			continue
		}

		if line == "" {
			continue
		}

		if currentState == readingHeader && strings.HasPrefix(line, directivePrefix) {
			if err := applyDirective(&deck.Course, line[len(directivePrefix):]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}

		// Indented lines continue the previous value.
		if currentState == readingItem && lastKey != "" && raw != strings.TrimLeft(raw, " \t") {
			if lastKey == keyID || lastKey == keyOrder {
				return nil, fmt.Errorf("line %d: %q cannot span lines", lineNo, lastKey)
			}
			if lastKey == keyFakeWords {
				current.FakeWords = append(current.FakeWords, splitList(line)...)
			} else {
				current.Fields[lastKey] += "\n" + line
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"key: value\", got %q", lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}

		if currentState != readingItem {
			if deck.Course.ID == "" {
				return nil, fmt.Errorf("line %d: %w", lineNo, ErrMissingCourse)
			}
			startItem()
			currentState = readingItem
		}

		switch key {
		case keyID:
			current.ID = value
		case keyOrder:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid order %q: %w", lineNo, value, err)
			}
			current.Order = n
			explicit = true
		case keyFakeWords:
			current.FakeWords = append(current.FakeWords, splitList(value)...)
		default:
			if _, dup := current.Fields[key]; dup {
				return nil, fmt.Errorf("line %d: field %q repeated", lineNo, key)
			}
			current.Fields[key] = value
		}
		lastKey = key
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := finishItem(); err != nil {
		return nil, err
	}

	if deck.Course.ID == "" {
		return nil, fmt.Errorf("line %d: %w", lineNo, ErrMissingCourse)
	}
	finishCourse(&deck.Course)

	return deck, nil
}

func applyDirective(c *domain.Course, body string) error {
	name, value, _ := strings.Cut(body, " ")
	value = strings.TrimSpace(value)
	switch strings.ToLower(name) {
	case "course":
		if value == "" {
			return ErrMissingCourse
		}
		c.ID = value
	case "title":
		c.Title = value
	case "description":
		c.Description = value
	case "icon":
		c.Icon = value
	case "kind":
		kind := domain.CourseKind(strings.ToLower(value))
		if !kind.Valid() {
			return fmt.Errorf("unknown course kind %q", value)
		}
		c.Kind = kind
	case "order":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid course order %q: %w", value, err)
		}
		c.Order = n
	default:
		return fmt.Errorf("unknown directive @%s", name)
	}
	return nil
}

func finishCourse(c *domain.Course) {
	if c.Title == "" {
		c.Title = c.ID
	}
	if c.Kind == "" {
		if k := domain.CourseKind(c.ID); k.Valid() {
			c.Kind = k
		} else {
			c.Kind = domain.KindWords
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
