package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interview/internal/analytics"
	"github.com/loqalabs/loqa-interview/internal/coordinator"
	"github.com/loqalabs/loqa-interview/internal/evaluation"
	"github.com/loqalabs/loqa-interview/internal/eventstore"
	"github.com/loqalabs/loqa-interview/internal/transcript"
)

const maxUploadBytes = 8 << 20

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}

	mux.HandleFunc("POST /interviews", r.handleCreate)
	mux.HandleFunc("GET /interviews", r.handleList)
	mux.HandleFunc("GET /interviews/{id}", r.handleGet)
	mux.HandleFunc("DELETE /interviews/{id}", r.handleDelete)
	mux.HandleFunc("POST /interviews/{id}/pause", r.intentHandler((*coordinator.Coordinator).Pause))
	mux.HandleFunc("POST /interviews/{id}/resume", r.intentHandler((*coordinator.Coordinator).Resume))
	mux.HandleFunc("POST /interviews/{id}/conclude", r.intentHandler((*coordinator.Coordinator).Conclude))
	mux.HandleFunc("POST /interviews/{id}/text", r.handleText)
	mux.HandleFunc("GET /interviews/{id}/metrics", r.handleMetrics)
	mux.HandleFunc("GET /interviews/{id}/export", r.handleExport)
	mux.HandleFunc("POST /interviews/{id}/evaluate", r.handleEvaluate)
	mux.HandleFunc("GET /interviews/{id}/evaluations", r.handleEvaluations)
	mux.HandleFunc("GET /interviews/{id}/events", r.handleEvents)
	mux.HandleFunc("GET /interviews/{id}/log", r.handleEventLog)
	mux.HandleFunc("GET /phenomena", r.handlePhenomena)
	mux.HandleFunc("POST /transcripts", r.handleImport)
	mux.HandleFunc("POST /transcripts/metrics", r.handleTranscriptMetrics)
	return mux
}

type interviewResponse struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	Live          bool            `json:"live"`
	Transcription json.RawMessage `json:"transcription,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (r *Runtime) handleCreate(w http.ResponseWriter, req *http.Request) {
	s, err := r.createSession(req.Context())
	if err != nil {
		r.logger.Error("failed to start interview", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, interviewResponse{ID: s.id, State: s.coord.State().String(), Live: true})
}

func (r *Runtime) handleList(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	history, err := r.store.ListInterviews(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type entry struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		Utterances int    `json:"utterances"`
		CreatedAt  string `json:"created_at"`
		Live       bool   `json:"live"`
	}
	out := make([]entry, 0, len(history))
	for _, iv := range history {
		_, err := r.lookup(iv.ID)
		out = append(out, entry{
			ID:         iv.ID,
			Title:      iv.Title,
			Utterances: iv.Utterances,
			CreatedAt:  iv.CreatedAt.Format(time.RFC3339),
			Live:       err == nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// loadTranscript prefers the live session and falls back to history.
func (r *Runtime) loadTranscript(ctx context.Context, id string) (transcript.Transcript, *coordinator.Snapshot, error) {
	if s, err := r.lookup(id); err == nil {
		snap := s.coord.Snapshot()
		return snap.Transcript, &snap, nil
	}
	t, err := r.store.Transcript(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, nil, nil
}

func (r *Runtime) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, eventstore.ErrNotFound) || errors.Is(err, errSessionNotFound) {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func (r *Runtime) handleGet(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	t, snap, err := r.loadTranscript(req.Context(), id)
	if err != nil {
		r.writeLookupError(w, err)
		return
	}
	data, err := transcript.Marshal(t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := interviewResponse{ID: id, State: coordinator.Concluded.String(), Transcription: data}
	if snap != nil {
		resp.State = snap.State.String()
		resp.Live = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Runtime) handleDelete(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	live := r.removeSession(id)
	err := r.store.DeleteInterview(req.Context(), id)
	if err != nil && !(live && errors.Is(err, eventstore.ErrNotFound)) {
		r.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) intentHandler(intent func(*coordinator.Coordinator, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s, err := r.lookup(req.PathValue("id"))
		if err != nil {
			r.writeLookupError(w, err)
			return
		}
		if err := intent(s.coord, req.Context()); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, interviewResponse{ID: s.id, State: s.coord.State().String(), Live: true})
	}
}

func (r *Runtime) handleText(w http.ResponseWriter, req *http.Request) {
	s, err := r.lookup(req.PathValue("id"))
	if err != nil {
		r.writeLookupError(w, err)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, maxUploadBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.coord.State() != coordinator.ListeningForHuman {
		writeError(w, http.StatusConflict, errors.New("interview is not listening"))
		return
	}
	if err := s.coord.SubmitText(req.Context(), body.Text); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, interviewResponse{ID: s.id, State: s.coord.State().String(), Live: true})
}

func (r *Runtime) handleMetrics(w http.ResponseWriter, req *http.Request) {
	t, _, err := r.loadTranscript(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Compute(t, r.policy))
}

func (r *Runtime) handleExport(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	t, _, err := r.loadTranscript(req.Context(), id)
	if err != nil {
		r.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="interview-`+id+`.json"`)
	if err := transcript.Encode(w, t); err != nil {
		r.logger.Warn("export failed", slog.String("session_id", id), slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleEvaluate(w http.ResponseWriter, req *http.Request) {
	if r.evaluator == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("evaluation is disabled"))
		return
	}
	id := req.PathValue("id")
	t, _, err := r.loadTranscript(req.Context(), id)
	if err != nil {
		r.writeLookupError(w, err)
		return
	}
	var body struct {
		Phenomenon string `json:"phenomenon"`
	}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(req.Body, maxUploadBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	previous, err := r.store.LatestScores(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var results []evaluation.Result
	if body.Phenomenon != "" {
		res, err := r.evaluator.EvaluateOne(req.Context(), body.Phenomenon, t, previous)
		switch {
		case errors.Is(err, evaluation.ErrUnknownPhenomenon):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			writeError(w, http.StatusBadGateway, err)
			return
		}
		results = append(results, res)
	} else {
		results, err = r.evaluator.EvaluateAll(req.Context(), t, previous)
		if err != nil && len(results) == 0 {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	for _, res := range results {
		if !res.Scored {
			continue
		}
		if err := r.store.AppendEvaluation(req.Context(), id, res.Phenomenon, res.Score); err != nil {
			r.logger.Warn("failed to record evaluation", slog.String("session_id", id), slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, results)
}

func (r *Runtime) handlePhenomena(w http.ResponseWriter, _ *http.Request) {
	if r.evaluator == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("evaluation is disabled"))
		return
	}
	writeJSON(w, http.StatusOK, r.evaluator.Catalogue())
}

func (r *Runtime) handleEvaluations(w http.ResponseWriter, req *http.Request) {
	history, err := r.store.EvaluationLog(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type entry struct {
		Score     int    `json:"score"`
		Timestamp string `json:"timestamp"`
	}
	out := make(map[string][]entry, len(history))
	for name, entries := range history {
		for _, e := range entries {
			out[name] = append(out[name], entry{Score: e.Score, Timestamp: e.CreatedAt.Format(time.RFC3339)})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTranscriptMetrics scores an uploaded transcript in the export
// format. Blank utterances are dropped first.
func (r *Runtime) handleTranscriptMetrics(w http.ResponseWriter, req *http.Request) {
	t, err := transcript.Decode(io.LimitReader(req.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	policy := r.policy
	q := req.URL.Query()
	if v := q.Get("max_rate"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("max_rate must be a positive number"))
			return
		}
		policy.MaxSpeechRate = rate
	}
	if v := q.Get("length"); v != "" {
		mode, err := analytics.ParseLengthMode(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		policy.ResponseLength = mode
	}
	writeJSON(w, http.StatusOK, analytics.Compute(t.WithoutEmpty(), policy))
}

// handleEventLog returns the recorded notifications of an interview.
func (r *Runtime) handleEventLog(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	events, err := r.store.ListInterviewEvents(req.Context(), req.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		out = append(out, json.RawMessage(e.Payload))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleImport stores an uploaded transcript as a concluded interview.
func (r *Runtime) handleImport(w http.ResponseWriter, req *http.Request) {
	t, err := transcript.Decode(io.LimitReader(req.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := uuid.NewString()
	if err := r.store.SaveTranscript(req.Context(), id, t.WithoutEmpty()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	r.logger.Info("transcript imported", slog.String("session_id", id), slog.Int("utterances", len(t)))
	writeJSON(w, http.StatusCreated, interviewResponse{ID: id, State: coordinator.Concluded.String()})
}
