package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/transcript"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("eventstore: interview not found")

// Event represents a recorded coordinator notification.
type Event struct {
	ID          int64
	InterviewID string
	Type        string
	Payload     []byte
	CreatedAt   time.Time
}

// Interview is a history entry.
type Interview struct {
	ID         string
	Title      string
	Utterances int
	CreatedAt  time.Time
}

// ScoreEntry is one appended evaluation result.
type ScoreEntry struct {
	Score     int
	CreatedAt time.Time
}

// Store keeps interview history in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode keeps
// nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS interviews (
    interview_id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    interview_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    start_s REAL NOT NULL,
    end_s REAL NOT NULL,
    synthetic INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY(interview_id) REFERENCES interviews(interview_id) ON DELETE CASCADE,
    UNIQUE(interview_id, seq)
);
CREATE TABLE IF NOT EXISTS evaluations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    interview_id TEXT NOT NULL,
    phenomenon TEXT NOT NULL,
    score INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(interview_id) REFERENCES interviews(interview_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    interview_id TEXT NOT NULL,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(interview_id) REFERENCES interviews(interview_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_utterances_interview ON utterances(interview_id, seq);
CREATE INDEX IF NOT EXISTS idx_evaluations_interview ON evaluations(interview_id, phenomenon, id);
CREATE INDEX IF NOT EXISTS idx_events_interview_created ON events(interview_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendInterview ensures an interview row exists.
func (s *Store) AppendInterview(ctx context.Context, interviewID string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interviews(interview_id, created_at) VALUES(?, ?)
		 ON CONFLICT(interview_id) DO NOTHING`,
		interviewID, s.clock().UTC())
	return err
}

// AppendUtterance stores the utterance at position seq. The first non-blank
// human utterance becomes the interview title.
func (s *Store) AppendUtterance(ctx context.Context, interviewID string, seq int, u transcript.Utterance) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	synthetic := 0
	if u.Synthetic {
		synthetic = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO utterances(interview_id, seq, role, text, start_s, end_s, synthetic)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(interview_id, seq) DO UPDATE SET role=excluded.role, text=excluded.text,
		   start_s=excluded.start_s, end_s=excluded.end_s, synthetic=excluded.synthetic`,
		interviewID, seq, transcript.Role(u.Speaker), u.Text, u.Start, u.End, synthetic); err != nil {
		return err
	}
	if u.Speaker == transcript.Human && !u.Blank() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE interviews SET title = ? WHERE interview_id = ? AND title = ''`,
			titleFrom(u.Text), interviewID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveTranscript replaces the stored utterances of an interview.
func (s *Store) SaveTranscript(ctx context.Context, interviewID string, t transcript.Transcript) error {
	if s.disabled() {
		return nil
	}
	if err := s.AppendInterview(ctx, interviewID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE interview_id = ?`, interviewID); err != nil {
		return err
	}
	for i, u := range t {
		if err := s.AppendUtterance(ctx, interviewID, i, u); err != nil {
			return err
		}
	}
	return nil
}

// Transcript loads the utterances of an interview in turn order.
func (s *Store) Transcript(ctx context.Context, interviewID string) (transcript.Transcript, error) {
	if s.disabled() {
		return nil, ErrNotFound
	}
	if err := s.exists(ctx, interviewID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, start_s, end_s, synthetic FROM utterances
		 WHERE interview_id = ? ORDER BY seq ASC`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := transcript.Transcript{}
	for rows.Next() {
		var (
			role      string
			u         transcript.Utterance
			synthetic int
		)
		if err := rows.Scan(&role, &u.Text, &u.Start, &u.End, &synthetic); err != nil {
			return nil, err
		}
		speaker, err := transcript.ParseRole(role)
		if err != nil {
			return nil, err
		}
		u.Speaker = speaker
		u.Synthetic = synthetic == 1
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListInterviews returns up to limit interviews, newest first.
func (s *Store) ListInterviews(ctx context.Context, limit int) ([]Interview, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.interview_id, i.title, i.created_at,
		        (SELECT COUNT(*) FROM utterances u WHERE u.interview_id = i.interview_id)
		 FROM interviews i ORDER BY i.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interview
	for rows.Next() {
		var iv Interview
		var created string
		if err := rows.Scan(&iv.ID, &iv.Title, &created, &iv.Utterances); err != nil {
			return nil, err
		}
		iv.CreatedAt = parseTime(created)
		out = append(out, iv)
	}
	return out, rows.Err()
}

// DeleteInterview removes an interview and everything recorded for it.
func (s *Store) DeleteInterview(ctx context.Context, interviewID string) error {
	if s.disabled() {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM interviews WHERE interview_id = ?`, interviewID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvaluation appends a score to the interview's evaluation log.
func (s *Store) AppendEvaluation(ctx context.Context, interviewID, phenomenon string, score int) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations(interview_id, phenomenon, score, created_at) VALUES(?, ?, ?, ?)`,
		interviewID, phenomenon, score, s.clock().UTC())
	return err
}

// EvaluationLog returns every score recorded per phenomenon, oldest first.
func (s *Store) EvaluationLog(ctx context.Context, interviewID string) (map[string][]ScoreEntry, error) {
	out := make(map[string][]ScoreEntry)
	if s.disabled() {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT phenomenon, score, created_at FROM evaluations
		 WHERE interview_id = ? ORDER BY id ASC`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name    string
			entry   ScoreEntry
			created string
		)
		if err := rows.Scan(&name, &entry.Score, &created); err != nil {
			return nil, err
		}
		entry.CreatedAt = parseTime(created)
		out[name] = append(out[name], entry)
	}
	return out, rows.Err()
}

// LatestScores returns the most recent score per phenomenon.
func (s *Store) LatestScores(ctx context.Context, interviewID string) (map[string]int, error) {
	log, err := s.EvaluationLog(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(log))
	for name, entries := range log {
		if len(entries) > 0 {
			out[name] = entries[len(entries)-1].Score
		}
	}
	return out, nil
}

// AppendEvent writes a notification into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(interview_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.InterviewID, evt.Type, evt.Payload, evt.CreatedAt)
	return err
}

// ListInterviewEvents retrieves up to limit events for an interview ordered
// ascending by time.
func (s *Store) ListInterviewEvents(ctx context.Context, interviewID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, interview_id, event_type, payload, created_at
		 FROM events WHERE interview_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, interviewID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.InterviewID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM interviews WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxInterviews > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM interviews WHERE interview_id IN (
			SELECT interview_id FROM interviews ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxInterviews)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (s *Store) exists(ctx context.Context, interviewID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM interviews WHERE interview_id = ?`, interviewID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func parseTime(value string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}

func titleFrom(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if r := []rune(title); len(r) > 60 {
		title = string(r[:60]) + "…"
	}
	return title
}
