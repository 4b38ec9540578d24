package dialogue

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
)

// NewBackend builds the backend selected by cfg.Mode.
func NewBackend(cfg config.DialogueConfig) (Backend, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockBackend(20 * time.Millisecond), nil
	case "ollama":
		return NewOllamaBackend(cfg.Endpoint, cfg.Model), nil
	case "openai":
		defaults := config.Default().Dialogue
		endpoint, model := cfg.Endpoint, cfg.Model
		if endpoint == defaults.Endpoint {
			endpoint = ""
		}
		if model == defaults.Model {
			model = ""
		}
		return NewOpenAIBackend(cfg.APIKey, endpoint, model), nil
	case "exec":
		return NewExecBackend(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported dialogue mode %q", cfg.Mode)
	}
}

// NewGenerator wires the configured backend into an Interviewer, loading
// the question bank when one is configured.
func NewGenerator(cfg config.DialogueConfig) (*Interviewer, Backend, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	var questions []string
	if cfg.QuestionBank != "" {
		questions, err = LoadQuestionBank(cfg.QuestionBank)
		if err != nil {
			return nil, nil, err
		}
	}
	gen := NewInterviewer(backend, InterviewerOptions{
		SystemPrompt: cfg.SystemPrompt,
		Questions:    questions,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
	})
	return gen, backend, nil
}
