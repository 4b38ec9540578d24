// Package speech defines the speech synthesis contract consumed by the
// coordinator and its implementations.
package speech

import (
	"context"
	"time"
)

// EventKind classifies playback events.
type EventKind int

const (
	Started EventKind = iota
	Finished
	Cancelled
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends playback of a request.
func (k EventKind) Terminal() bool {
	return k != Started
}

// Event reports playback progress for the request returned by Speak. At is
// the engine timestamp; a zero value means the receiver should use its own
// clock.
type Event struct {
	Kind      EventKind
	RequestID string
	Message   string
	At        time.Time
}

// Adapter is a speech synthesis engine. Speak queues text and returns a
// request identifier carried by the resulting events.
type Adapter interface {
	Speak(ctx context.Context, text string) (requestID string, err error)
	Stop() error
	Subscribe(fn func(Event)) (unsubscribe func())
}
