package dialogue

import (
	"context"
	"strings"
	"time"
)

type mockBackend struct {
	delay time.Duration
}

// NewMockBackend answers every request with a canned reply after delay.
func NewMockBackend(delay time.Duration) Backend { return &mockBackend{delay: delay} }

func (m *mockBackend) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(m.delay):
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	return "[mock reply to " + last + "]", nil
}
