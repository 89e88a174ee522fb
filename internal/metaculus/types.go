// Package metaculus implements the tournament platform HTTP client.
package metaculus

import (
	"encoding/json"
	"time"
)

// QuestionType enumerates the platform's question kinds.
type QuestionType string

const (
	TypeBinary         QuestionType = "binary"
	TypeNumeric        QuestionType = "numeric"
	TypeDiscrete       QuestionType = "discrete"
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeDate           QuestionType = "date"
)

// Question is the platform's question record. PostID and QuestionID coincide
// for single-question posts and diverge for group posts; callers must pass
// the right one per endpoint (posts endpoints take PostID, question
// endpoints take QuestionID).
type Question struct {
	PostID     int64        `json:"post_id"`
	QuestionID int64        `json:"question_id"`
	Type       QuestionType `json:"question_type"`

	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	ResolutionCriteria string `json:"resolution_criteria,omitempty"`
	FinePrint          string `json:"fine_print,omitempty"`

	// Numeric / discrete scaling.
	RangeMin            *float64 `json:"range_min,omitempty"`
	RangeMax            *float64 `json:"range_max,omitempty"`
	OpenLowerBound      bool     `json:"open_lower_bound,omitempty"`
	OpenUpperBound      bool     `json:"open_upper_bound,omitempty"`
	ZeroPoint           *float64 `json:"zero_point,omitempty"`
	InboundOutcomeCount int      `json:"inbound_outcome_count,omitempty"`

	// Multiple choice.
	Options []string `json:"options,omitempty"`

	Status               string     `json:"status,omitempty"`
	PublishedAt          *time.Time `json:"published_at,omitempty"`
	ScheduledCloseTime   *time.Time `json:"scheduled_close_time,omitempty"`
	ScheduledResolveTime *time.Time `json:"scheduled_resolve_time,omitempty"`
	ActualResolutionTime *time.Time `json:"actual_resolution_time,omitempty"`
	ResolutionString     string     `json:"resolution,omitempty"`
}

// CDFSize returns the wire-format CDF length for the question: 201 for
// continuous questions, inbound_outcome_count+1 for discrete ones.
func (q *Question) CDFSize() int {
	if q.Type == TypeDiscrete && q.InboundOutcomeCount > 0 {
		return q.InboundOutcomeCount + 1
	}
	return 201
}

// CoherenceLink is an edge in the platform's coherence graph.
type CoherenceLink struct {
	ID         int64   `json:"id"`
	Question1  int64   `json:"question1_id"`
	Question2  int64   `json:"question2_id"`
	Direction  int     `json:"direction"`
	Strength   float64 `json:"strength"`
	LinkType   string  `json:"type"`
	Question1T string  `json:"question1_title,omitempty"`
	Question2T string  `json:"question2_title,omitempty"`
}

// AggregateEntry is one point in the community prediction history.
type AggregateEntry struct {
	// StartTime is the Unix timestamp (seconds) the aggregate became
	// current. Older API responses carry end_time instead.
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time,omitempty"`
	Centers   []float64 `json:"centers"`
}

// Time returns the entry's timestamp, preferring start_time and falling
// back to end_time. ok is false when neither is present.
func (e *AggregateEntry) Time() (t time.Time, ok bool) {
	if e.StartTime > 0 {
		return time.Unix(int64(e.StartTime), 0).UTC(), true
	}
	if e.EndTime > 0 {
		return time.Unix(int64(e.EndTime), 0).UTC(), true
	}
	return time.Time{}, false
}

// ListFilter narrows the /api/posts/ listing.
type ListFilter struct {
	Status                  string
	Tournaments             []string
	ForecastType            string
	ForecasterCountGTE      int
	ScheduledResolveTimeGT  *time.Time
	ScheduledResolveTimeLT  *time.Time
	Search                  string
	HasCommunityPrediction  bool
	OrderBy                 string
	Offset                  int
	Limit                   int
}

// ForecastPayload is one element of the POST /api/questions/forecast/ body.
// Exactly one of the three prediction fields is non-nil, by question type.
type ForecastPayload struct {
	Question                  int64              `json:"question"`
	ProbabilityYes            *float64           `json:"probability_yes"`
	ProbabilityYesPerCategory map[string]float64 `json:"probability_yes_per_category"`
	ContinuousCDF             []float64          `json:"continuous_cdf"`
}

// postEnvelope is the wire shape of GET /api/posts/{id}/. The type-specific
// details hang off exactly one of question, group_of_questions, or
// conditional.
type postEnvelope struct {
	ID               int64            `json:"id"`
	Title            string           `json:"title"`
	PublishedAt      *time.Time       `json:"published_at"`
	ScheduledClose   *time.Time       `json:"scheduled_close_time"`
	ScheduledResolve *time.Time       `json:"scheduled_resolve_time"`
	StatusField      string           `json:"status"`
	Question         *wireQuestion    `json:"question"`
	GroupOfQuestions *wireGroup       `json:"group_of_questions"`
	Conditional      *wireConditional `json:"conditional"`
}

type wireGroup struct {
	Questions []wireQuestion `json:"questions"`
}

type wireConditional struct {
	QuestionYes *wireQuestion `json:"question_yes"`
	QuestionNo  *wireQuestion `json:"question_no"`
}

type wireQuestion struct {
	ID                 int64    `json:"id"`
	Title              string   `json:"title"`
	Type               string   `json:"type"`
	Description        string   `json:"description"`
	ResolutionCriteria string   `json:"resolution_criteria"`
	FinePrint          string   `json:"fine_print"`
	Options            []string `json:"options"`
	Status             string   `json:"status"`
	Resolution         string   `json:"resolution"`

	PublishedAt          *time.Time `json:"published_at"`
	ScheduledCloseTime   *time.Time `json:"scheduled_close_time"`
	ScheduledResolveTime *time.Time `json:"scheduled_resolve_time"`
	ActualResolveTime    *time.Time `json:"actual_resolve_time"`

	Scaling *wireScaling `json:"scaling"`
}

type wireScaling struct {
	RangeMin            *float64 `json:"range_min"`
	RangeMax            *float64 `json:"range_max"`
	ZeroPoint           *float64 `json:"zero_point"`
	OpenLowerBound      *bool    `json:"open_lower_bound"`
	OpenUpperBound      *bool    `json:"open_upper_bound"`
	InboundOutcomeCount int      `json:"inbound_outcome_count"`
}

// unpack flattens a post envelope into its questions. Group and conditional
// posts yield multiple questions sharing the envelope's post id.
func (p *postEnvelope) unpack() []*Question {
	var wires []wireQuestion
	switch {
	case p.Question != nil:
		wires = []wireQuestion{*p.Question}
	case p.GroupOfQuestions != nil:
		wires = p.GroupOfQuestions.Questions
	case p.Conditional != nil:
		if p.Conditional.QuestionYes != nil {
			wires = append(wires, *p.Conditional.QuestionYes)
		}
		if p.Conditional.QuestionNo != nil {
			wires = append(wires, *p.Conditional.QuestionNo)
		}
	}

	questions := make([]*Question, 0, len(wires))
	for i := range wires {
		questions = append(questions, p.toQuestion(&wires[i]))
	}
	return questions
}

func (p *postEnvelope) toQuestion(w *wireQuestion) *Question {
	q := &Question{
		PostID:               p.ID,
		QuestionID:           w.ID,
		Type:                 QuestionType(w.Type),
		Title:                firstNonEmpty(w.Title, p.Title),
		Description:          w.Description,
		ResolutionCriteria:   w.ResolutionCriteria,
		FinePrint:            w.FinePrint,
		Options:              w.Options,
		Status:               firstNonEmpty(w.Status, p.StatusField),
		ResolutionString:     w.Resolution,
		PublishedAt:          coalesceTime(w.PublishedAt, p.PublishedAt),
		ScheduledCloseTime:   coalesceTime(w.ScheduledCloseTime, p.ScheduledClose),
		ScheduledResolveTime: coalesceTime(w.ScheduledResolveTime, p.ScheduledResolve),
		ActualResolutionTime: w.ActualResolveTime,
	}
	if s := w.Scaling; s != nil {
		q.RangeMin = s.RangeMin
		q.RangeMax = s.RangeMax
		q.ZeroPoint = s.ZeroPoint
		if s.OpenLowerBound != nil {
			q.OpenLowerBound = *s.OpenLowerBound
		}
		if s.OpenUpperBound != nil {
			q.OpenUpperBound = *s.OpenUpperBound
		}
		q.InboundOutcomeCount = s.InboundOutcomeCount
	}
	return q
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesceTime(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// MarshalCompact renders a question as compact JSON for tool output.
func (q *Question) MarshalCompact() (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
