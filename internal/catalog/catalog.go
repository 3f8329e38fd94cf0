// Package catalog serves course metadata and items from storage through a
// bounded in-memory cache.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/conorfennell/kartuli/internal/domain"
)

var (
	ErrCatalogEmpty   = errors.New("catalog is empty")
	ErrCourseNotFound = errors.New("course not found")
)

const coursesKey = "\x00courses"

// Store is the persistence the catalog reads from.
type Store interface {
	ListCourseMetas(ctx context.Context) ([]domain.CourseMeta, error)
	// GetCourse returns nil and no error when the course does not exist.
	GetCourse(ctx context.Context, id string) (*domain.Course, error)
	ListItems(ctx context.Context, courseID string) ([]domain.CatalogItem, error)
}

type entry struct {
	course  domain.Course
	items   []domain.CatalogItem
	courses []domain.CourseMeta
}

// Service caches catalog reads. Concurrent misses for the same key share one
// store round trip.
type Service struct {
	store Store
	cache *ristretto.Cache[string, *entry]
	ttl   time.Duration
	group singleflight.Group
}

// New returns a Service caching up to maxItems entries for ttl each.
func New(store Store, maxItems int64, ttl time.Duration) (*Service, error) {
	if maxItems <= 0 {
		maxItems = 128
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *entry]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
		// Every entry costs 1, so MaxCost counts entries.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create catalog cache: %w", err)
	}
	return &Service{store: store, cache: c, ttl: ttl}, nil
}

// ListItems returns the items of a course ordered by order then id.
func (s *Service) ListItems(ctx context.Context, courseID string) ([]domain.CatalogItem, error) {
	e, err := s.course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if len(e.items) == 0 {
		return nil, fmt.Errorf("course %s: %w", courseID, ErrCatalogEmpty)
	}
	items := make([]domain.CatalogItem, len(e.items))
	copy(items, e.items)
	return items, nil
}

// GetCourseMeta returns the summary of a course.
func (s *Service) GetCourseMeta(ctx context.Context, courseID string) (domain.CourseMeta, error) {
	e, err := s.course(ctx, courseID)
	if err != nil {
		return domain.CourseMeta{}, err
	}
	return domain.CourseMeta{
		ID:          e.course.ID,
		Title:       e.course.Title,
		Description: e.course.Description,
		Icon:        e.course.Icon,
		Kind:        e.course.Kind,
		TotalItems:  len(e.items),
	}, nil
}

// ListCourses returns every course in display order.
func (s *Service) ListCourses(ctx context.Context) ([]domain.CourseMeta, error) {
	e, err := s.load(ctx, coursesKey, func(ctx context.Context) (*entry, error) {
		metas, err := s.store.ListCourseMetas(ctx)
		if err != nil {
			return nil, fmt.Errorf("list courses: %w", err)
		}
		return &entry{courses: metas}, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CourseMeta, len(e.courses))
	copy(out, e.courses)
	return out, nil
}

// Invalidate drops every cached entry. Call it after the catalog tables change.
func (s *Service) Invalidate() {
	s.cache.Wait()
	s.cache.Clear()
}

// Close releases the cache.
func (s *Service) Close() {
	s.cache.Close()
}

func (s *Service) course(ctx context.Context, courseID string) (*entry, error) {
	return s.load(ctx, "course:"+courseID, func(ctx context.Context) (*entry, error) {
		c, err := s.store.GetCourse(ctx, courseID)
		if err != nil {
			return nil, fmt.Errorf("get course %s: %w", courseID, err)
		}
		if c == nil {
			return nil, fmt.Errorf("course %s: %w", courseID, ErrCourseNotFound)
		}
		items, err := s.store.ListItems(ctx, courseID)
		if err != nil {
			return nil, fmt.Errorf("list items of %s: %w", courseID, err)
		}
		domain.SortItems(items)
		return &entry{course: *c, items: items}, nil
	})
}

func (s *Service) load(ctx context.Context, key string, fetch func(context.Context) (*entry, error)) (*entry, error) {
	if e, ok := s.cache.Get(key); ok {
		return e, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		e, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.SetWithTTL(key, e, 1, s.ttl)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// wait blocks until pending cache writes are visible. Tests use it.
func (s *Service) wait() {
	s.cache.Wait()
}
