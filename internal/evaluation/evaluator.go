package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interview/internal/analytics"
	"github.com/loqalabs/loqa-interview/internal/dialogue"
	"github.com/loqalabs/loqa-interview/internal/transcript"
)

// ErrUnknownPhenomenon is returned for names missing from the catalogue.
var ErrUnknownPhenomenon = errors.New("evaluation: unknown phenomenon")

// Result is the outcome of scoring one phenomenon. Scored is false when the
// reply carried no score line.
type Result struct {
	Phenomenon string    `json:"phenomenon"`
	Text       string    `json:"text"`
	Score      int       `json:"score"`
	Scored     bool      `json:"scored"`
	At         time.Time `json:"at"`
}

// Evaluator scores transcripts against a catalogue.
type Evaluator struct {
	backend   dialogue.Backend
	catalogue []Phenomenon
	policy    analytics.Policy
	logger    *slog.Logger
	maxTokens int
	now       func() time.Time
}

func NewEvaluator(backend dialogue.Backend, catalogue []Phenomenon, policy analytics.Policy, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		backend:   backend,
		catalogue: catalogue,
		policy:    policy,
		logger:    logger.With(slog.String("component", "evaluation")),
		maxTokens: 1024,
		now:       time.Now,
	}
}

// Catalogue returns the configured phenomena.
func (e *Evaluator) Catalogue() []Phenomenon {
	out := make([]Phenomenon, len(e.catalogue))
	copy(out, e.catalogue)
	return out
}

func (e *Evaluator) lookup(name string) (Phenomenon, bool) {
	for _, p := range e.catalogue {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Phenomenon{}, false
}

// EvaluateOne scores the named phenomenon. previous holds the latest
// recorded scores keyed by phenomenon name and may be nil.
func (e *Evaluator) EvaluateOne(ctx context.Context, name string, t transcript.Transcript, previous map[string]int) (Result, error) {
	p, ok := e.lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownPhenomenon, name)
	}
	t = t.WithoutEmpty()
	return e.evaluate(ctx, p, t, analytics.Compute(t, e.policy), previous)
}

// EvaluateAll scores every phenomenon in catalogue order. A failed
// completion aborts the run.
func (e *Evaluator) EvaluateAll(ctx context.Context, t transcript.Transcript, previous map[string]int) ([]Result, error) {
	t = t.WithoutEmpty()
	m := analytics.Compute(t, e.policy)
	results := make([]Result, 0, len(e.catalogue))
	for _, p := range e.catalogue {
		r, err := e.evaluate(ctx, p, t, m, previous)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Evaluator) evaluate(ctx context.Context, p Phenomenon, t transcript.Transcript, m analytics.Metrics, previous map[string]int) (Result, error) {
	if len(t) == 0 {
		return Result{}, errors.New("evaluation: empty transcript")
	}
	prev := NoPreviousScore
	if score, ok := previous[p.Name]; ok {
		prev = score
	}
	text, err := e.backend.Complete(ctx, dialogue.Request{
		Messages:  []dialogue.Message{{Role: dialogue.RoleUser, Content: BuildPrompt(p, t, m, prev)}},
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("evaluate %q: %w", p.Name, dialogue.Classify(err))
	}
	res := Result{Phenomenon: p.Name, Text: strings.TrimSpace(text), At: e.now()}
	if score, err := ExtractScore(text); err == nil {
		res.Score = score
		res.Scored = true
	} else {
		e.logger.Warn("reply carried no score", slog.String("phenomenon", p.Name))
	}
	return res, nil
}
