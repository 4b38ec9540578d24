package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interview/internal/dialogue"
	"github.com/loqalabs/loqa-interview/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-interview/coordinator"

type instruments struct {
	transitions metric.Int64Counter
	utterances  metric.Int64Counter
	nudges      metric.Int64Counter
	latency     metric.Float64Histogram
	tracer      trace.Tracer
}

func newInstruments(logger *slog.Logger) instruments {
	meter := otel.Meter(instrumentationName)
	inst := instruments{tracer: otel.Tracer(instrumentationName)}
	var err error
	if inst.transitions, err = meter.Int64Counter("interview.state_transitions",
		metric.WithDescription("Coordinator state transitions")); err != nil {
		logger.Warn("failed to create transitions counter", slog.String("error", err.Error()))
	}
	if inst.utterances, err = meter.Int64Counter("interview.utterances",
		metric.WithDescription("Finalized utterances by speaker")); err != nil {
		logger.Warn("failed to create utterances counter", slog.String("error", err.Error()))
	}
	if inst.nudges, err = meter.Int64Counter("interview.nudges",
		metric.WithDescription("Nudges spoken after a silent listening window")); err != nil {
		logger.Warn("failed to create nudges counter", slog.String("error", err.Error()))
	}
	if inst.latency, err = meter.Float64Histogram("interview.generation.latency",
		metric.WithDescription("Dialogue generation latency"), metric.WithUnit("s")); err != nil {
		logger.Warn("failed to create generation histogram", slog.String("error", err.Error()))
	}
	return inst
}

func (i instruments) transition(ctx context.Context, from, to State) {
	if i.transitions == nil {
		return
	}
	i.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (i instruments) utterance(ctx context.Context, u transcript.Utterance) {
	if i.utterances == nil {
		return
	}
	i.utterances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("speaker", u.Speaker.String()),
		attribute.Bool("synthetic", u.Synthetic),
	))
}

func (i instruments) nudge(ctx context.Context) {
	if i.nudges != nil {
		i.nudges.Add(ctx, 1)
	}
}

func (i instruments) generate(ctx context.Context, gen dialogue.Generator, history transcript.Transcript, latest string) (string, error) {
	ctx, span := i.tracer.Start(ctx, "interview.next_turn",
		trace.WithAttributes(attribute.Int("history.length", len(history))))
	defer span.End()

	started := time.Now()
	text, err := gen.NextTurn(ctx, history, latest)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if i.latency != nil {
		i.latency.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return text, err
}
