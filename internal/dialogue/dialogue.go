// Package dialogue produces the interviewer's next turn from the
// conversation so far, on top of pluggable language model backends.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/loqalabs/loqa-interview/internal/transcript"
)

var (
	// ErrNetwork means the backend could not be reached.
	ErrNetwork = errors.New("dialogue: network error")
	// ErrGeneration means the backend answered but produced no usable turn.
	ErrGeneration = errors.New("dialogue: generation error")
)

// Generator returns the next agent utterance. history is a read-only
// snapshot; latest is the human text that triggered the call and is empty
// for the opening turn.
type Generator interface {
	NextTurn(ctx context.Context, history transcript.Transcript, latest string) (string, error)
}

// Role labels a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat entry sent to a backend.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Backend is a language model that completes a chat.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Classify maps err onto ErrNetwork or ErrGeneration, preserving the
// original error in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrGeneration) {
		return err
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return fmt.Errorf("%w: %w", ErrGeneration, err)
}
