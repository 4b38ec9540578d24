package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/transcript"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "interviews.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendInterview(ctx, "iv-1"); err != nil {
		t.Fatalf("append interview: %v", err)
	}
	if _, err := es.Transcript(ctx, "iv-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from ephemeral store, got %v", err)
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := es.AppendInterview(ctx, "iv-1"); err != nil {
		t.Fatalf("append interview: %v", err)
	}
	utterances := transcript.Transcript{
		{Speaker: transcript.Agent, Text: "Buongiorno, come sta?", Start: 1, End: 3},
		{Speaker: transcript.Human, Text: "Abbastanza bene, grazie", Start: 4.5, End: 6},
		{Speaker: transcript.Agent, Text: "È ancora lì?", Start: 16, End: 17, Synthetic: true},
	}
	for i, u := range utterances {
		if err := es.AppendUtterance(ctx, "iv-1", i, u); err != nil {
			t.Fatalf("append utterance %d: %v", i, err)
		}
	}

	got, err := es.Transcript(ctx, "iv-1")
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(got))
	}
	for i := range utterances {
		if got[i] != utterances[i] {
			t.Fatalf("utterance %d: got %+v want %+v", i, got[i], utterances[i])
		}
	}

	list, err := es.ListInterviews(ctx, 10)
	if err != nil {
		t.Fatalf("list interviews: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Abbastanza bene, grazie" || list[0].Utterances != 3 {
		t.Fatalf("unexpected listing %+v", list)
	}
}

func TestSaveTranscriptReplaces(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})

	first := transcript.Transcript{
		{Speaker: transcript.Agent, Text: "uno", Start: 0, End: 1},
		{Speaker: transcript.Human, Text: "due", Start: 2, End: 3},
	}
	if err := es.SaveTranscript(ctx, "iv-2", first); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	if err := es.SaveTranscript(ctx, "iv-2", first[:1]); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	got, err := es.Transcript(ctx, "iv-2")
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected replaced transcript of 1 utterance, got %d", len(got))
	}
}

func TestTranscriptUnknownInterview(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	if _, err := es.Transcript(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := es.DeleteInterview(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
}

func TestEvaluationLogIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	if err := es.AppendInterview(ctx, "iv-3"); err != nil {
		t.Fatalf("append interview: %v", err)
	}
	for _, score := range []int{1, 3} {
		if err := es.AppendEvaluation(ctx, "iv-3", "Logorrea", score); err != nil {
			t.Fatalf("append evaluation: %v", err)
		}
	}
	if err := es.AppendEvaluation(ctx, "iv-3", "Eloquio rallentato", 0); err != nil {
		t.Fatalf("append evaluation: %v", err)
	}

	log, err := es.EvaluationLog(ctx, "iv-3")
	if err != nil {
		t.Fatalf("evaluation log: %v", err)
	}
	if len(log["Logorrea"]) != 2 || log["Logorrea"][0].Score != 1 {
		t.Fatalf("unexpected log %+v", log)
	}
	latest, err := es.LatestScores(ctx, "iv-3")
	if err != nil {
		t.Fatalf("latest scores: %v", err)
	}
	if latest["Logorrea"] != 3 || latest["Eloquio rallentato"] != 0 {
		t.Fatalf("unexpected latest scores %+v", latest)
	}
}

func TestDeleteInterviewCascades(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	if err := es.SaveTranscript(ctx, "iv-4", transcript.Transcript{{Speaker: transcript.Human, Text: "ciao", End: 1}}); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	if err := es.AppendEvaluation(ctx, "iv-4", "Logorrea", 2); err != nil {
		t.Fatalf("append evaluation: %v", err)
	}
	if err := es.DeleteInterview(ctx, "iv-4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := es.Transcript(ctx, "iv-4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted interview, got %v", err)
	}
	log, err := es.EvaluationLog(ctx, "iv-4")
	if err != nil {
		t.Fatalf("evaluation log: %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("expected evaluations removed, got %+v", log)
	}
}

func TestAppendAndQueryEvents(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := es.AppendInterview(ctx, "iv-5"); err != nil {
		t.Fatalf("append interview: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{InterviewID: "iv-5", Type: "state", Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListInterviewEvents(ctx, "iv-5", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestPruneByDaysAndInterviews(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxInterviews: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendInterview(ctx, "old"); err != nil {
		t.Fatalf("append interview: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{InterviewID: "old", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendInterview(ctx, "new"); err != nil {
		t.Fatalf("append interview: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListInterviewEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old interview pruned")
	}
	list, err := es.ListInterviews(ctx, 10)
	if err != nil {
		t.Fatalf("list interviews: %v", err)
	}
	if len(list) != 1 || list[0].ID != "new" {
		t.Fatalf("expected only the new interview, got %+v", list)
	}
}
