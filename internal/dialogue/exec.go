package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execBackend struct {
	cmd []string
	mu  sync.Mutex
}

type execMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type execRequest struct {
	System      string        `json:"system"`
	Messages    []execMessage `json:"messages"`
	Prompt      string        `json:"prompt"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type execResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// NewExecBackend runs command once per request, writing the request as JSON
// on stdin and reading {"content": ...} from stdout.
func NewExecBackend(command string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse dialogue command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("dialogue command empty")
	}
	return &execBackend{cmd: args}, nil
}

func (g *execBackend) Complete(ctx context.Context, req Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	payload := execRequest{
		System:      req.System,
		Prompt:      FlattenMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, execMessage{Role: string(m.Role), Content: m.Content})
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: dialogue exec command failed: %w", ErrGeneration, err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("%w: decode dialogue exec response: %w", ErrGeneration, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrGeneration, resp.Error)
	}
	return resp.Content, nil
}
