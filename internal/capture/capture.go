// Package capture defines the speech recognition contract consumed by the
// coordinator and its implementations.
package capture

import (
	"context"
	"time"
)

// EventKind classifies recognition events.
type EventKind int

const (
	Partial EventKind = iota
	Final
	Silence
	Error
)

func (k EventKind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	case Silence:
		return "silence"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Error codes reported by recognition engines.
const (
	CodeNoSpeech         = "no-speech"
	CodePermissionDenied = "permission-denied"
	CodeEngine           = "engine"
)

// Event is one recognition callback. At is the engine timestamp; a zero
// value means the receiver should use its own clock.
type Event struct {
	Kind    EventKind
	Text    string
	Code    string
	Message string
	At      time.Time
}

// NoSpeech reports whether the event is the "nothing was said" error.
func (e Event) NoSpeech() bool {
	return e.Kind == Error && e.Code == CodeNoSpeech
}

// Adapter is a speech recognition engine. Start opens capture for the given
// locale; results arrive through subscribers until Stop. Engines may emit
// residual events shortly after Stop.
type Adapter interface {
	Start(ctx context.Context, locale string) error
	Stop() error
	Subscribe(fn func(Event)) (unsubscribe func())
}
