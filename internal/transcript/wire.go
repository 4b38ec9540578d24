package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Wire role labels used by existing export consumers.
const (
	RoleAgent = "medico"
	RoleHuman = "paziente"
)

var (
	ErrInvalidFormat = errors.New("transcript: expected an object with a transcription array or a bare array")
	ErrUnknownRole   = errors.New("transcript: unknown role")
)

type wireUtterance struct {
	Role  string  `json:"role"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type wireDocument struct {
	Transcription []wireUtterance `json:"transcription"`
}

// Role returns the wire label for a speaker.
func Role(s Speaker) string {
	if s == Agent {
		return RoleAgent
	}
	return RoleHuman
}

// ParseRole maps a wire label back to a speaker.
func ParseRole(role string) (Speaker, error) {
	switch role {
	case RoleAgent:
		return Agent, nil
	case RoleHuman:
		return Human, nil
	default:
		return Human, fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
}

// Marshal renders t in the export format, indented by two spaces.
func Marshal(t Transcript) ([]byte, error) {
	doc := wireDocument{Transcription: make([]wireUtterance, 0, len(t))}
	for _, u := range t {
		doc.Transcription = append(doc.Transcription, wireUtterance{
			Role:  Role(u.Speaker),
			Text:  u.Text,
			Start: u.Start,
			End:   u.End,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Encode writes t to w in the export format.
func Encode(w io.Writer, t Transcript) error {
	data, err := Marshal(t)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Unmarshal parses either {"transcription": [...]} or a bare array of
// utterances. Unknown fields are ignored; blank utterances are kept.
func Unmarshal(data []byte) (Transcript, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrInvalidFormat
	}

	var items []wireUtterance
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode transcript array: %w", err)
		}
	case '{':
		var doc struct {
			Transcription *[]wireUtterance `json:"transcription"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode transcript document: %w", err)
		}
		if doc.Transcription == nil {
			return nil, ErrInvalidFormat
		}
		items = *doc.Transcription
	default:
		return nil, ErrInvalidFormat
	}

	out := make(Transcript, 0, len(items))
	for i, item := range items {
		speaker, err := ParseRole(item.Role)
		if err != nil {
			return nil, fmt.Errorf("utterance %d: %w", i, err)
		}
		out = append(out, Utterance{
			Speaker: speaker,
			Text:    item.Text,
			Start:   item.Start,
			End:     item.End,
		})
	}
	return out, nil
}

// Decode reads a transcript in the export format from r.
func Decode(r io.Reader) (Transcript, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Unmarshal(data)
}
