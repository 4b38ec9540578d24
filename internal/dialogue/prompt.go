package dialogue

import (
	"fmt"
	"os"
	"strings"

	"github.com/loqalabs/loqa-interview/internal/transcript"
)

// Speaker labels used when a conversation is rendered as plain text.
const (
	LabelHuman = "PAZIENTE"
	LabelAgent = "MEDICO"
)

// RenderConversation renders t one line per non-blank utterance, prefixed
// with the speaker label.
func RenderConversation(t transcript.Transcript) string {
	var b strings.Builder
	for _, u := range t {
		if u.Blank() {
			continue
		}
		label := LabelHuman
		if u.Speaker == transcript.Agent {
			label = LabelAgent
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", label, strings.TrimSpace(u.Text))
	}
	return b.String()
}

// QuestionsFromTranscript numbers the agent lines of a reference interview.
func QuestionsFromTranscript(t transcript.Transcript) []string {
	var out []string
	for _, u := range t {
		if u.Speaker != transcript.Agent || u.Blank() {
			continue
		}
		out = append(out, fmt.Sprintf("%d. %s", len(out)+1, strings.TrimSpace(u.Text)))
	}
	return out
}

// LoadQuestionBank reads a reference transcript in the export format and
// returns its numbered agent questions.
func LoadQuestionBank(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open question bank: %w", err)
	}
	defer f.Close()
	t, err := transcript.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	return QuestionsFromTranscript(t.WithoutEmpty()), nil
}

// FlattenMessages renders chat messages as a single prompt for backends
// without a chat endpoint.
func FlattenMessages(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		label := LabelHuman
		switch m.Role {
		case RoleAssistant:
			label = LabelAgent
		case RoleSystem:
			label = "ISTRUZIONI"
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", label, m.Content)
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(LabelAgent + ":")
	return b.String()
}
