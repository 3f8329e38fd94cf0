// Package web exposes courses and learning sessions over a JSON HTTP API.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/conorfennell/kartuli/internal/answer"
	"github.com/conorfennell/kartuli/internal/catalog"
	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/progress"
	"github.com/conorfennell/kartuli/internal/session"
	"github.com/conorfennell/kartuli/internal/storage"
	decksync "github.com/conorfennell/kartuli/internal/sync"
)

// Courses is the read side of the catalog.
type Courses interface {
	ListCourses(ctx context.Context) ([]domain.CourseMeta, error)
	GetCourseMeta(ctx context.Context, courseID string) (domain.CourseMeta, error)
	ListItems(ctx context.Context, courseID string) ([]domain.CatalogItem, error)
	Invalidate()
}

// ProgressResetter clears progress outside of a session and waits for it to
// land.
type ProgressResetter interface {
	Reset(ctx context.Context, userID, courseID string) error
	FlushCourse(ctx context.Context, userID, courseID string) error
}

// Config tunes the HTTP layer.
type Config struct {
	AuthSecret    string
	AuthRequired  bool
	RatePerSecond float64
	RateBurst     int
}

// Deps are the collaborators of the server. Sources may be nil, which turns
// off source management and sync.
type Deps struct {
	Courses  Courses
	Progress progress.Store
	Writer   ProgressResetter
	Sessions *session.Registry
	Sources  *storage.DB
	Sync     decksync.Options
	Logger   *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	router  *http.ServeMux
	handler http.Handler
}

// NewServer creates and configures a new server.
func NewServer(deps Deps, cfg Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		router: http.NewServeMux(),
	}
	s.routes()

	var limiter *rateLimiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = newRateLimiter(cfg.RatePerSecond, burst)
	}

	s.handler = chain(s.router,
		logRequests(logger),
		recoverPanics(logger),
		authenticate([]byte(cfg.AuthSecret), cfg.AuthRequired, logger),
		limitRate(limiter),
	)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	s.router.HandleFunc("GET /api/courses", s.handleListCourses())
	s.router.HandleFunc("GET /api/courses/{courseID}", s.handleGetCourse())
	s.router.HandleFunc("DELETE /api/courses/{courseID}/progress", s.handleResetCourseProgress())
	s.router.HandleFunc("POST /api/courses/{courseID}/sessions", s.handleStartSession())

	s.router.HandleFunc("GET /api/sessions/{sessionID}", s.handleGetSession())
	s.router.HandleFunc("DELETE /api/sessions/{sessionID}", s.handleEndSession())
	s.router.HandleFunc("POST /api/sessions/{sessionID}/skip", s.handleSkip())
	s.router.HandleFunc("POST /api/sessions/{sessionID}/learned", s.handleLearned())
	s.router.HandleFunc("POST /api/sessions/{sessionID}/answers", s.handleAnswer())
	s.router.HandleFunc("POST /api/sessions/{sessionID}/continue", s.handleContinue())
	s.router.HandleFunc("POST /api/sessions/{sessionID}/reset", s.handleResetSession())
	s.router.HandleFunc("POST /api/sessions/{sessionID}/reset-progress", s.handleResetSessionProgress())

	if s.deps.Sources != nil {
		s.router.HandleFunc("GET /api/sources", s.handleGetSources())
		s.router.HandleFunc("POST /api/sources", s.handlePostSource())
		s.router.HandleFunc("DELETE /api/sources/{sourceID}", s.handleDeleteSource())
		s.router.HandleFunc("POST /api/sync", s.handlePostSync())
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Sources != nil {
			if err := s.deps.Sources.Ping(r.Context()); err != nil {
				s.logger.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleListCourses lists every course with the caller's standing in it.
func (s *Server) handleListCourses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		metas, err := s.deps.Courses.ListCourses(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}

		uid := UserIDFromContext(ctx)
		out := make([]courseResponse, 0, len(metas))
		for _, meta := range metas {
			c, err := s.courseStanding(ctx, uid, meta)
			if err != nil {
				writeError(w, r, err)
				return
			}
			out = append(out, c)
		}
		writeJSON(w, http.StatusOK, map[string]any{"courses": out})
	}
}

func (s *Server) handleGetCourse() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		meta, err := s.deps.Courses.GetCourseMeta(ctx, r.PathValue("courseID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		c, err := s.courseStanding(ctx, UserIDFromContext(ctx), meta)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// courseStanding counts the learned items that are still in the catalog.
func (s *Server) courseStanding(ctx context.Context, uid string, meta domain.CourseMeta) (courseResponse, error) {
	c := newCourseResponse(meta)
	if uid == "" {
		return c, nil
	}

	rec, err := progress.Load(ctx, s.deps.Progress, uid, meta.ID)
	if err != nil {
		return c, err
	}
	items, err := s.deps.Courses.ListItems(ctx, meta.ID)
	if err != nil && !errors.Is(err, catalog.ErrCatalogEmpty) {
		return c, err
	}
	learned := rec.LearnedSet()
	for _, item := range items {
		if _, ok := learned[item.ID]; ok {
			c.LearnedCount++
		}
	}
	c.Finished = rec.IsFinished
	return c, nil
}

func (s *Server) handleResetCourseProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		courseID := r.PathValue("courseID")
		if _, err := s.deps.Courses.GetCourseMeta(ctx, courseID); err != nil {
			writeError(w, r, err)
			return
		}

		uid := UserIDFromContext(ctx)
		if uid == "" {
			// Nothing is stored for anonymous callers.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := s.deps.Writer.Reset(ctx, uid, courseID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.Writer.FlushCourse(ctx, uid, courseID); err != nil {
			writeError(w, r, err)
			return
		}
		dropped := s.deps.Sessions.RemoveCourse(uid, courseID)
		s.logger.Info("course progress reset", "user_id", uid, "course_id", courseID, "sessions_dropped", dropped)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		e := s.deps.Sessions.Create(UserIDFromContext(ctx), r.PathValue("courseID"))
		view, err := e.Start(ctx)
		if err != nil {
			s.deps.Sessions.Remove(e.ID())
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newSessionResponse(view))
	}
}

// withSession resolves the caller's session before running fn.
func (s *Server) withSession(fn func(w http.ResponseWriter, r *http.Request, e *session.Engine)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := s.deps.Sessions.Get(r.PathValue("sessionID"), UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		fn(w, r, e)
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		writeJSON(w, http.StatusOK, newSessionResponse(e.View()))
	})
}

func (s *Server) handleEndSession() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		s.deps.Sessions.Remove(e.ID())
		w.WriteHeader(http.StatusNoContent)
	})
}

type itemRequest struct {
	ItemID string `json:"item_id" validate:"required"`
}

type learnedRequest struct {
	ItemID  string `json:"item_id" validate:"required"`
	Confirm bool   `json:"confirm"`
}

type answerRequest struct {
	ItemID string   `json:"item_id" validate:"required"`
	Text   string   `json:"text" validate:"required_without=Tokens"`
	Tokens []string `json:"tokens" validate:"required_without=Text"`
}

func (s *Server) handleSkip() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		var req itemRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := e.SubmitSkip(r.Context(), req.ItemID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSubmitResponse(res))
	})
}

func (s *Server) handleLearned() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		var req learnedRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := e.SubmitLearned(r.Context(), req.ItemID, req.Confirm)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSubmitResponse(res))
	})
}

func (s *Server) handleAnswer() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		var req answerRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		text := req.Text
		if len(req.Tokens) > 0 {
			text = answer.Join(req.Tokens)
		}
		res, err := e.SubmitAnswer(r.Context(), req.ItemID, text)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSubmitResponse(res))
	})
}

func (s *Server) handleContinue() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		view, err := e.Continue(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(view))
	})
}

func (s *Server) handleResetSession() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		writeJSON(w, http.StatusOK, newSessionResponse(e.Reset()))
	})
}

func (s *Server) handleResetSessionProgress() http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, e *session.Engine) {
		view, err := e.ResetProgress(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(view))
	})
}

// requireUser rejects anonymous callers.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			writeError(w, r, errUnauthorized)
			return
		}
		next(w, r)
	}
}

type sourceRequest struct {
	Path string `json:"path" validate:"required"`
}

func (s *Server) handleGetSources() http.HandlerFunc {
	return requireUser(func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.deps.Sources.GetAllSources(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]sourceResponse, 0, len(sources))
		for _, src := range sources {
			out = append(out, newSourceResponse(src))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sources": out})
	})
}

func (s *Server) handlePostSource() http.HandlerFunc {
	return requireUser(func(w http.ResponseWriter, r *http.Request) {
		var req sourceRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		src, err := decksync.AddSource(r.Context(), s.deps.Sources, req.Path)
		if err != nil {
			if errors.Is(err, decksync.ErrInvalidPath) {
				err = &badRequestError{err}
			}
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newSourceResponse(*src))
	})
}

func (s *Server) handleDeleteSource() http.HandlerFunc {
	return requireUser(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("sourceID"), 10, 64)
		if err != nil {
			writeError(w, r, &badRequestError{errors.New("invalid source id")})
			return
		}
		if err := s.deps.Sources.DeleteSource(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		s.deps.Courses.Invalidate()
		w.WriteHeader(http.StatusNoContent)
	})
}

// handlePostSync runs a sync in the foreground and returns its report.
func (s *Server) handlePostSync() http.HandlerFunc {
	return requireUser(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		report, err := decksync.RunSync(r.Context(), s.deps.Sources, s.deps.Sync)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if report.Changed() {
			s.deps.Courses.Invalidate()
		}
		writeJSON(w, http.StatusOK, newSyncResponse(report, time.Since(started)))
	})
}
