// Package transcript holds the utterance model of an interview and its JSON
// export format.
package transcript

import (
	"strings"
	"time"
)

// Speaker identifies which party produced an utterance.
type Speaker int

const (
	Human Speaker = iota
	Agent
)

func (s Speaker) String() string {
	switch s {
	case Human:
		return "human"
	case Agent:
		return "agent"
	default:
		return "unknown"
	}
}

// Utterance is one timestamped turn. Start and End are seconds since the
// Unix epoch.
type Utterance struct {
	Speaker Speaker
	Text    string
	Start   float64
	End     float64
	// Synthetic marks agent turns inserted by the coordinator (nudges).
	// It does not survive the wire format.
	Synthetic bool
}

// Words returns the whitespace-separated word count of the utterance text.
func (u Utterance) Words() int {
	return len(strings.Fields(u.Text))
}

// Duration returns End-Start, which may be zero or negative for
// placeholder records.
func (u Utterance) Duration() float64 {
	return u.End - u.Start
}

// Blank reports whether the utterance carries no spoken words.
func (u Utterance) Blank() bool {
	return strings.TrimSpace(u.Text) == ""
}

// Transcript is an ordered list of utterances in turn order.
type Transcript []Utterance

// Clone returns a copy that shares no backing array with t.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// WithoutEmpty drops utterances whose text is blank.
func (t Transcript) WithoutEmpty() Transcript {
	out := make(Transcript, 0, len(t))
	for _, u := range t {
		if !u.Blank() {
			out = append(out, u)
		}
	}
	return out
}

// Count returns the number of utterances by speaker.
func (t Transcript) Count(s Speaker) int {
	n := 0
	for _, u := range t {
		if u.Speaker == s {
			n++
		}
	}
	return n
}

// LastHuman returns the most recent non-blank human utterance.
func (t Transcript) LastHuman() (Utterance, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Speaker == Human && !t[i].Blank() {
			return t[i], true
		}
	}
	return Utterance{}, false
}

// Seconds converts a wall-clock instant to fractional epoch seconds.
func Seconds(ts time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	return float64(ts.UnixNano()) / 1e9
}

// Time converts fractional epoch seconds back to a wall-clock instant.
func Time(sec float64) time.Time {
	return time.Unix(0, int64(sec*1e9)).UTC()
}
