package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-interview/internal/transcript"
)

// DefaultSystemPrompt frames the model as the interviewing clinician.
const DefaultSystemPrompt = "Sei un medico che conduce un'intervista clinica semi-strutturata in italiano. " +
	"Fai una sola domanda alla volta, breve e cordiale, e non fornire diagnosi."

// OpeningCue stands in for the human turn when the interview begins.
const OpeningCue = "Inizia l'intervista: presentati e chiedi nome e data di nascita."

// Interviewer is the Generator used in production: it turns the transcript
// into a chat request for a Backend.
type Interviewer struct {
	backend     Backend
	system      string
	questions   []string
	maxTokens   int
	temperature float64
}

// InterviewerOptions tunes the requests an Interviewer sends.
type InterviewerOptions struct {
	SystemPrompt string
	Questions    []string
	MaxTokens    int
	Temperature  float64
}

func NewInterviewer(backend Backend, opts InterviewerOptions) *Interviewer {
	system := strings.TrimSpace(opts.SystemPrompt)
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Interviewer{
		backend:     backend,
		system:      system,
		questions:   append([]string(nil), opts.Questions...),
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

func (i *Interviewer) NextTurn(ctx context.Context, history transcript.Transcript, latest string) (string, error) {
	req := i.BuildRequest(history, latest)
	reply, err := i.backend.Complete(ctx, req)
	if err != nil {
		return "", Classify(err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrGeneration)
	}
	return reply, nil
}

// BuildRequest assembles the chat request for one turn.
func (i *Interviewer) BuildRequest(history transcript.Transcript, latest string) Request {
	system := i.system
	if len(i.questions) > 0 {
		system += "\n\nDomande di riferimento:\n" + strings.Join(i.questions, "\n")
	}

	msgs := make([]Message, 0, len(history)+1)
	for _, u := range history {
		if u.Blank() {
			continue
		}
		role := RoleUser
		if u.Speaker == transcript.Agent {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: strings.TrimSpace(u.Text)})
	}

	latest = strings.TrimSpace(latest)
	switch {
	case latest != "":
		if n := len(msgs); n == 0 || msgs[n-1].Role != RoleUser || msgs[n-1].Content != latest {
			msgs = append(msgs, Message{Role: RoleUser, Content: latest})
		}
	case len(msgs) == 0:
		msgs = append(msgs, Message{Role: RoleUser, Content: OpeningCue})
	}

	return Request{
		System:      system,
		Messages:    msgs,
		MaxTokens:   i.maxTokens,
		Temperature: i.temperature,
	}
}
