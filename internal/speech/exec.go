package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interview/internal/notify"
	"github.com/mattn/go-shellwords"
)

// ExecAdapter plays each utterance by running a local command that reads
// {"text","voice"} on stdin and exits when playback completes.
type ExecAdapter struct {
	cmd   []string
	voice string
	hub   notify.Hub[Event]
	clock func() time.Time

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func NewExecAdapter(command, voice string) (*ExecAdapter, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	return &ExecAdapter{cmd: args, voice: voice, clock: time.Now}, nil
}

func (e *ExecAdapter) Subscribe(fn func(Event)) func() {
	return e.hub.Subscribe(fn)
}

func (e *ExecAdapter) Speak(ctx context.Context, text string) (string, error) {
	input, err := json.Marshal(execRequest{Text: text, Voice: e.voice})
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	e.current = id
	e.cancel = cancel
	e.mu.Unlock()

	cmd := exec.CommandContext(runCtx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("speech exec start: %w", err)
	}
	started := e.clock()

	// Events are delivered off the caller's goroutine; subscribers may
	// block on the caller.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.hub.Publish(Event{Kind: Started, RequestID: id, At: started})
		err := cmd.Wait()
		evt := Event{Kind: Finished, RequestID: id, At: e.clock()}
		switch {
		case err == nil:
		case errors.Is(runCtx.Err(), context.Canceled):
			evt.Kind = Cancelled
		default:
			evt.Kind = Failed
			evt.Message = fmt.Sprintf("%v: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		e.mu.Lock()
		if e.current == id {
			e.current = ""
			e.cancel = nil
		}
		e.mu.Unlock()
		e.hub.Publish(evt)
	}()
	return id, nil
}

// Stop kills the running playback command, if any.
func (e *ExecAdapter) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Close stops playback and waits for the command to exit.
func (e *ExecAdapter) Close() {
	_ = e.Stop()
	e.wg.Wait()
}
