package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/kartuli/internal/fingerprint"
	"github.com/conorfennell/kartuli/internal/gitsource"
	"github.com/conorfennell/kartuli/internal/parser"
	"github.com/conorfennell/kartuli/internal/storage"
)

const deckExt = ".deck"

// Options tune a sync run.
type Options struct {
	ReposDir    string
	Concurrency int
	// GitProgress receives clone and pull output; nil discards it.
	GitProgress io.Writer
}

// SourceReport summarises the reconciliation of one source.
type SourceReport struct {
	SourceID       int64
	Path           string
	Type           string
	Courses        int
	Inserted       int
	Updated        int
	Unchanged      int
	Deleted        int
	CoursesDeleted int
	Errors         []error
}

// Report is the outcome of a sync run.
type Report struct {
	Sources []SourceReport
}

// Failed returns how many sources reported at least one error.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if len(s.Errors) > 0 {
			n++
		}
	}
	return n
}

// Changed reports whether the run touched the catalog.
func (r Report) Changed() bool {
	for _, s := range r.Sources {
		if s.Inserted+s.Updated+s.Deleted+s.CoursesDeleted > 0 {
			return true
		}
	}
	return false
}

type itemKey struct {
	course, id string
}

// RunSync fetches every git source and reconciles all sources into the
// catalog tables. Failures of one source are reported, not returned.
func RunSync(ctx context.Context, db *storage.DB, opts Options) (Report, error) {
	slog.Info("Starting sync process for all sources...")
	sources, err := db.GetAllSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return Report{}, nil
	}

	if opts.ReposDir == "" {
		opts.ReposDir = "repos"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	dirs, fetchErrs := fetchAll(ctx, sources, opts)

	report := Report{Sources: make([]SourceReport, 0, len(sources))}
	for i, source := range sources {
		slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)
		if fetchErrs[i] != nil {
			slog.Error("Error syncing git repo", "url", source.Path, "error", fetchErrs[i])
			report.Sources = append(report.Sources, SourceReport{
				SourceID: source.ID,
				Path:     source.Path,
				Type:     source.Type,
				Errors:   []error{fetchErrs[i]},
			})
			continue
		}
		report.Sources = append(report.Sources, reconcileSource(ctx, db, source, dirs[i]))
	}

	slog.Info("Sync process complete.", "sources", len(sources), "failed", report.Failed())
	return report, nil
}

// fetchAll brings every git source up to date, at most opts.Concurrency at a
// time, and returns the directory to read each source from.
func fetchAll(ctx context.Context, sources []storage.Source, opts Options) ([]string, []error) {
	dirs := make([]string, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, source := range sources {
		if source.Type != storage.SourceGit {
			dirs[i] = source.Path
			continue
		}
		g.Go(func() error {
			localRepoPath, err := gitsource.LocalPath(opts.ReposDir, source.Path)
			if err != nil {
				errs[i] = err
				return nil
			}
			if err := gitsource.Sync(gctx, source.Path, localRepoPath, opts.GitProgress); err != nil {
				errs[i] = err
				return nil
			}
			dirs[i] = localRepoPath
			return nil
		})
	}
	g.Wait()
	return dirs, errs
}

func reconcileSource(ctx context.Context, db *storage.DB, source storage.Source, dir string) SourceReport {
	rep := SourceReport{SourceID: source.ID, Path: source.Path, Type: source.Type}
	fail := func(err error) {
		rep.Errors = append(rep.Errors, err)
	}

	existing, err := db.GetItemRefsBySource(ctx, source.ID)
	if err != nil {
		fail(err)
		return rep
	}
	known := make(map[itemKey]storage.ItemRef, len(existing))
	for _, ref := range existing {
		known[itemKey{ref.CourseID, ref.ID}] = ref
	}

	seenItems := make(map[itemKey]bool)
	seenCourses := make(map[string]string)
	parseFailed := false

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), deckExt) {
			return nil
		}

		deck, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			parseFailed = true
			fail(fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		if other, dup := seenCourses[deck.Course.ID]; dup {
			parseFailed = true
			fail(fmt.Errorf("course %s defined in both %s and %s", deck.Course.ID, other, path))
			return nil
		}
		seenCourses[deck.Course.ID] = path

		if err := db.UpsertCourse(ctx, deck.Course, source.ID); err != nil {
			fail(err)
			return nil
		}
		rep.Courses++

		for _, item := range deck.Items {
			item.Hash = fingerprint.Item(item)
			k := itemKey{item.CourseID, item.ID}
			seenItems[k] = true

			ref, found := known[k]
			switch {
			case !found:
				slog.Info("New item found, inserting...", "course", item.CourseID, "id", item.ID)
				if err := db.InsertItem(ctx, item, source.ID); err != nil {
					fail(err)
					continue
				}
				rep.Inserted++
			case ref.Hash != item.Hash || ref.Order != item.Order:
				if err := db.UpdateItem(ctx, item); err != nil {
					fail(err)
					continue
				}
				rep.Updated++
			default:
				rep.Unchanged++
			}
		}
		return nil
	})

	if walkErr != nil {
		slog.Error("Error walking directory", "path", dir, "error", walkErr)
		fail(walkErr)
		return rep
	}

	// A deck that failed to parse would look like a deletion; keep its items.
	if !parseFailed {
		for k := range known {
			if seenItems[k] {
				continue
			}
			slog.Info("Orphaned item, deleting", "course", k.course, "id", k.id)
			if err := db.DeleteItem(ctx, k.course, k.id); err != nil {
				slog.Warn("Failed to delete orphaned item", "course", k.course, "id", k.id, "error", err)
				fail(err)
				continue
			}
			rep.Deleted++
		}

		courseIDs, err := db.ListCourseIDsBySource(ctx, source.ID)
		if err != nil {
			fail(err)
		}
		for _, id := range courseIDs {
			if _, ok := seenCourses[id]; ok {
				continue
			}
			slog.Info("Orphaned course, deleting", "course", id)
			if err := db.DeleteCourse(ctx, id); err != nil {
				fail(err)
				continue
			}
			rep.CoursesDeleted++
		}
	}

	if err := db.UpdateSourceLastScanned(ctx, source.ID); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	slog.Info("reconciliation complete",
		"path", source.Path,
		"courses", rep.Courses,
		"inserted", rep.Inserted,
		"updated", rep.Updated,
		"unchanged", rep.Unchanged,
		"orphaned_deleted", rep.Deleted,
		"errors", len(rep.Errors),
	)
	return rep
}

// AddSource records a deck source. Git URLs are stored as given; local paths
// must be existing directories and are stored absolute. Adding a known path
// returns the existing source.
func AddSource(ctx context.Context, db *storage.DB, path string) (*storage.Source, error) {
	sourceType := storage.SourceLocal
	if gitsource.IsGitURL(path) {
		sourceType = storage.SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, abs)
		}
		path = abs
	}

	existing, err := db.FindSourceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	slog.Info("Source added", "id", id, "type", sourceType, "path", path)
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// ErrInvalidPath is returned by AddSource for local paths that are not
// readable directories.
var ErrInvalidPath = errors.New("invalid source path")
