package evaluation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-interview/internal/analytics"
	"github.com/loqalabs/loqa-interview/internal/dialogue"
	"github.com/loqalabs/loqa-interview/internal/transcript"
)

// ErrNoScore is returned when a model reply carries no score line.
var ErrNoScore = errors.New("evaluation: no score in reply")

// NoPreviousScore marks a phenomenon that was never scored.
const NoPreviousScore = -1

const (
	MinScore = 0
	MaxScore = 4
)

// Only a single digit on the rating scale counts as a score.
var scorePattern = regexp.MustCompile(`Punteggio\s*[Aa]ssegnato:\s*([0-4])`)

// ExtractScore finds the "Punteggio Assegnato: N" line. Digits outside
// MinScore..MaxScore are not a score.
func ExtractScore(text string) (int, error) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, ErrNoScore
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < MinScore || n > MaxScore {
		return 0, ErrNoScore
	}
	return n, nil
}

// Hints returns the metric notes relevant to p, or an empty string.
func Hints(p Phenomenon, m analytics.Metrics) string {
	name := strings.ToLower(p.Name)
	var b strings.Builder
	if strings.Contains(name, "rallentato") {
		fmt.Fprintf(&b, "**Nota sulle metriche per %s: tempo medio di risposta del paziente = %.2fs. "+
			"Un valore superiore a 2 secondi rafforza la presenza del fenomeno.**\n", p.Name, m.AvgResponseLatency)
	}
	if strings.Contains(name, "logorrea") {
		fmt.Fprintf(&b, "**Nota sulle metriche per %s:** lunghezza media delle risposte %.2f parole; "+
			"il paziente interrompe il medico nel %.1f%% dei casi. Tieni conto di questi valori nel punteggio.\n",
			p.Name, m.AvgResponseLength, m.InterruptionRatio*100)
	}
	if strings.Contains(name, "discorso sotto pressione") {
		fmt.Fprintf(&b, "**Nota sulle metriche per %s:** velocità media del parlato = %.2f parole/s; "+
			"picco = %.2f parole/s. Una conversazione tipica procede a 130-150 parole al minuto; "+
			"valori più alti rafforzano la presenza del fenomeno.\n", p.Name, m.AvgSpeechRate, m.MaxSpeechRate)
	}
	return b.String()
}

// BuildPrompt renders the scoring prompt for one phenomenon. previous is the
// last recorded score or NoPreviousScore.
func BuildPrompt(p Phenomenon, t transcript.Transcript, m analytics.Metrics, previous int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Problematica: %s\n", p.Name)
	fmt.Fprintf(&b, "- Descrizione: %s\n", p.Description)
	fmt.Fprintf(&b, "- Esempio: %s\n", p.Example)
	fmt.Fprintf(&b, "- Punteggio TLDS: %s\n", p.Scale)
	b.WriteString(Hints(p, m))
	if previous >= MinScore {
		fmt.Fprintf(&b, "\nNOTA: menziona esplicitamente il punteggio precedente '%d' (%d-%d) e se è maggiore o minore dell'attuale.\n",
			previous, MinScore, MaxScore)
	}
	b.WriteString("**Se il tuo ultimo messaggio è una domanda, non considerarlo nella valutazione.**\n")
	fmt.Fprintf(&b, "**Valuta la presenza della problematica %q nelle risposte del paziente usando il seguente modello:**\n", p.Name)
	fmt.Fprintf(&b, "**Modello di output:**\n%s\n\n", p.OutputTemplate)
	b.WriteString("Conversazione completa:\n")
	b.WriteString(dialogue.RenderConversation(t))
	b.WriteByte('\n')
	return b.String()
}
