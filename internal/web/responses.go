package web

import (
	"time"

	"github.com/conorfennell/kartuli/internal/answer"
	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/session"
	"github.com/conorfennell/kartuli/internal/storage"
	decksync "github.com/conorfennell/kartuli/internal/sync"
)

type courseResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Icon         string `json:"icon,omitempty"`
	Kind         string `json:"kind"`
	Variant      string `json:"variant"`
	TotalItems   int    `json:"total_items"`
	LearnedCount int    `json:"learned_count"`
	Finished     bool   `json:"finished"`
}

func newCourseResponse(m domain.CourseMeta) courseResponse {
	return courseResponse{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Icon:        m.Icon,
		Kind:        string(m.Kind),
		Variant:     m.Kind.Variant().String(),
		TotalItems:  m.TotalItems,
	}
}

type itemResponse struct {
	ID     string            `json:"id"`
	Order  int               `json:"order"`
	Fields map[string]string `json:"fields"`
}

type sessionResponse struct {
	ID              string         `json:"id"`
	Course          courseResponse `json:"course"`
	State           string         `json:"state"`
	Current         *itemResponse  `json:"current,omitempty"`
	WordBank        []string       `json:"word_bank,omitempty"`
	CorrectAnswers  int            `json:"correct_answers"`
	Processed       int            `json:"processed"`
	Total           int            `json:"total"`
	SessionLearned  int            `json:"session_learned"`
	SessionComplete bool           `json:"session_complete"`
	NothingToReview bool           `json:"nothing_to_review"`
}

func newSessionResponse(v session.View) sessionResponse {
	course := newCourseResponse(v.Meta)
	if course.ID == "" {
		course.ID = v.CourseID
	}
	course.Variant = v.Variant.String()
	course.LearnedCount = v.LearnedCount
	course.Finished = v.CourseFinished

	out := sessionResponse{
		ID:              v.ID,
		Course:          course,
		State:           v.State.String(),
		WordBank:        v.WordBank,
		CorrectAnswers:  v.CorrectAnswers,
		Processed:       v.Processed,
		Total:           v.Total,
		SessionLearned:  v.SessionLearned,
		SessionComplete: v.SessionComplete,
		NothingToReview: v.NothingToReview,
	}
	if v.Current != nil {
		out.Current = newItemResponse(*v.Current, v.Variant)
	}
	return out
}

// newItemResponse withholds the translation of items the learner has to
// construct.
func newItemResponse(it domain.CatalogItem, variant domain.MasteryVariant) *itemResponse {
	fields := make(map[string]string, len(it.Fields))
	for k, v := range it.Fields {
		if variant == domain.Streak && k == answer.FieldTranslation {
			continue
		}
		fields[k] = v
	}
	return &itemResponse{ID: it.ID, Order: it.Order, Fields: fields}
}

type submitResponse struct {
	Session           sessionResponse `json:"session"`
	Changed           bool            `json:"changed"`
	Correct           *bool           `json:"correct,omitempty"`
	Expected          string          `json:"expected,omitempty"`
	Streak            int             `json:"streak"`
	Transition        string          `json:"transition"`
	TransitionDelayMS int64           `json:"transition_delay_ms"`
}

func newSubmitResponse(res session.Result) submitResponse {
	out := submitResponse{
		Session:           newSessionResponse(res.View),
		Changed:           res.Changed,
		Correct:           res.Correct,
		Streak:            res.Streak,
		Transition:        res.Transition.String(),
		TransitionDelayMS: res.Delay.Milliseconds(),
	}
	// The expected sentence is only revealed once an answer has been scored.
	if res.Correct != nil {
		out.Expected = res.Expected
	}
	return out
}

type sourceResponse struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
}

func newSourceResponse(s storage.Source) sourceResponse {
	out := sourceResponse{ID: s.ID, Path: s.Path, Type: s.Type}
	if s.LastScanned.Valid {
		t := s.LastScanned.Time
		out.LastScanned = &t
	}
	return out
}

type sourceReportResponse struct {
	ID             int64    `json:"id"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	Courses        int      `json:"courses"`
	Inserted       int      `json:"inserted"`
	Updated        int      `json:"updated"`
	Unchanged      int      `json:"unchanged"`
	Deleted        int      `json:"deleted"`
	CoursesDeleted int      `json:"courses_deleted"`
	Errors         []string `json:"errors,omitempty"`
}

type syncResponse struct {
	Sources    []sourceReportResponse `json:"sources"`
	Failed     int                    `json:"failed"`
	Changed    bool                   `json:"changed"`
	DurationMS int64                  `json:"duration_ms"`
}

func newSyncResponse(rep decksync.Report, took time.Duration) syncResponse {
	out := syncResponse{
		Sources:    make([]sourceReportResponse, 0, len(rep.Sources)),
		Failed:     rep.Failed(),
		Changed:    rep.Changed(),
		DurationMS: took.Milliseconds(),
	}
	for _, s := range rep.Sources {
		sr := sourceReportResponse{
			ID:             s.SourceID,
			Path:           s.Path,
			Type:           s.Type,
			Courses:        s.Courses,
			Inserted:       s.Inserted,
			Updated:        s.Updated,
			Unchanged:      s.Unchanged,
			Deleted:        s.Deleted,
			CoursesDeleted: s.CoursesDeleted,
		}
		for _, err := range s.Errors {
			sr.Errors = append(sr.Errors, err.Error())
		}
		out.Sources = append(out.Sources, sr)
	}
	return out
}
