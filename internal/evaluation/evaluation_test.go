package evaluation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-interview/internal/analytics"
	"github.com/loqalabs/loqa-interview/internal/dialogue"
	"github.com/loqalabs/loqa-interview/internal/transcript"
	"github.com/matryer/is"
)

const catalogueYAML = `
- fenomeno: Pensiero rallentato
  descrizione: Risposte lente e faticose
  esempio: "..."
  punteggio: "0-4"
  modello_di_output: "Punteggio Assegnato: N"
- fenomeno: Logorrea
  descrizione: Eccessiva quantità di parole
  esempio: "..."
  punteggio: 3
  modello_di_output: "Punteggio Assegnato: N"
`

type scriptedBackend struct {
	replies []string
	err     error
	prompts []string
}

func (b *scriptedBackend) Complete(_ context.Context, req dialogue.Request) (string, error) {
	b.prompts = append(b.prompts, req.Messages[len(req.Messages)-1].Content)
	if b.err != nil {
		return "", b.err
	}
	reply := b.replies[0]
	b.replies = b.replies[1:]
	return reply, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sample() transcript.Transcript {
	return transcript.Transcript{
		{Speaker: transcript.Agent, Text: "Come sta oggi?", Start: 10, End: 12},
		{Speaker: transcript.Human, Text: "", Start: 12.5, End: 12.5},
		{Speaker: transcript.Human, Text: "Bene grazie", Start: 14.25, End: 15},
	}
}

func TestParseCatalogueFormats(t *testing.T) {
	is := is.New(t)

	list, err := ParseCatalogue([]byte(catalogueYAML))
	is.NoErr(err)
	is.Equal(len(list), 2)
	is.Equal(list[1].Scale, "3") // numeric scale decodes as text

	wrapped, err := ParseCatalogue([]byte(`{"fenomeni":[{"fenomeno":"Logorrea","descrizione":"d"}]}`))
	is.NoErr(err)
	is.Equal(wrapped[0].Name, "Logorrea")

	bare, err := ParseCatalogue([]byte(`[{"fenomeno":"Logorrea"}]`))
	is.NoErr(err)
	is.Equal(len(bare), 1)
}

func TestParseCatalogueRejects(t *testing.T) {
	cases := map[string]string{
		"empty":     `[]`,
		"no name":   `[{"descrizione":"x"}]`,
		"duplicate": `[{"fenomeno":"A"},{"fenomeno":"A"}]`,
		"garbage":   `{{{`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalogue([]byte(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadCatalogueFile(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "catalogue.yaml")
	is.NoErr(os.WriteFile(path, []byte(catalogueYAML), 0o644))
	list, err := LoadCatalogue(path)
	is.NoErr(err)
	is.Equal(list[0].Name, "Pensiero rallentato")
}

func TestExtractScore(t *testing.T) {
	is := is.New(t)

	score, err := ExtractScore("Analisi...\nPunteggio Assegnato: 3\nFine")
	is.NoErr(err)
	is.Equal(score, 3)

	score, err = ExtractScore("punteggio assegnato:2")
	is.True(errors.Is(err, ErrNoScore)) // capital P required
	is.Equal(score, 0)

	score, err = ExtractScore("Punteggio assegnato:   4")
	is.NoErr(err)
	is.Equal(score, 4)

	_, err = ExtractScore("Punteggio Assegnato: 9")
	is.True(errors.Is(err, ErrNoScore)) // off the 0..4 scale

	score, err = ExtractScore("Punteggio Assegnato: 10")
	is.NoErr(err)
	is.Equal(score, 1) // only the leading scale digit is read

	_, err = ExtractScore("nessun punteggio")
	is.True(errors.Is(err, ErrNoScore))
}

func TestHintsSelectMetrics(t *testing.T) {
	is := is.New(t)
	m := analytics.Metrics{
		AvgResponseLatency: 2.25,
		AvgResponseLength:  17.33,
		InterruptionRatio:  0.25,
		AvgSpeechRate:      2.5,
		MaxSpeechRate:      3.1,
	}

	slow := Hints(Phenomenon{Name: "Pensiero Rallentato"}, m)
	is.True(strings.Contains(slow, "2.25s"))

	logorrhoea := Hints(Phenomenon{Name: "Logorrea"}, m)
	is.True(strings.Contains(logorrhoea, "17.33 parole"))
	is.True(strings.Contains(logorrhoea, "25.0%"))

	pressure := Hints(Phenomenon{Name: "Discorso sotto pressione"}, m)
	is.True(strings.Contains(pressure, "2.50 parole/s"))
	is.True(strings.Contains(pressure, "3.10 parole/s"))

	is.Equal(Hints(Phenomenon{Name: "Tangenzialità"}, m), "")
}

func TestBuildPromptIncludesPreviousScore(t *testing.T) {
	is := is.New(t)
	p := Phenomenon{Name: "Logorrea", OutputTemplate: "Punteggio Assegnato: N"}

	prompt := BuildPrompt(p, sample(), analytics.Metrics{}, 2)
	is.True(strings.Contains(prompt, "punteggio precedente '2'"))
	is.True(strings.Contains(prompt, "MEDICO: Come sta oggi?\nPAZIENTE: Bene grazie"))

	prompt = BuildPrompt(p, sample(), analytics.Metrics{}, NoPreviousScore)
	is.True(!strings.Contains(prompt, "punteggio precedente"))
}

func TestEvaluateAll(t *testing.T) {
	is := is.New(t)
	list, err := ParseCatalogue([]byte(catalogueYAML))
	is.NoErr(err)
	backend := &scriptedBackend{replies: []string{"Punteggio Assegnato: 1", "Nessun segno evidente."}}
	ev := NewEvaluator(backend, list, analytics.DefaultPolicy(), quietLogger())

	results, err := ev.EvaluateAll(context.Background(), sample(), map[string]int{"Logorrea": 3})
	is.NoErr(err)
	is.Equal(len(results), 2)
	is.Equal(results[0].Phenomenon, "Pensiero rallentato")
	is.True(results[0].Scored)
	is.Equal(results[0].Score, 1)
	is.True(!results[1].Scored)

	// blank utterances are dropped before metrics, so latency pairs 12 -> 14.25
	is.True(strings.Contains(backend.prompts[0], "2.25s"))
	is.True(strings.Contains(backend.prompts[1], "punteggio precedente '3'"))
}

func TestEvaluateOne(t *testing.T) {
	is := is.New(t)
	list, err := ParseCatalogue([]byte(catalogueYAML))
	is.NoErr(err)

	ev := NewEvaluator(&scriptedBackend{replies: []string{"Punteggio Assegnato: 2"}}, list, analytics.DefaultPolicy(), quietLogger())
	res, err := ev.EvaluateOne(context.Background(), "logorrea", sample(), nil)
	is.NoErr(err)
	is.Equal(res.Phenomenon, "Logorrea")
	is.Equal(res.Score, 2)

	_, err = ev.EvaluateOne(context.Background(), "Tangenzialità", sample(), nil)
	is.True(errors.Is(err, ErrUnknownPhenomenon))
}

func TestEvaluateBackendFailure(t *testing.T) {
	is := is.New(t)
	list, err := ParseCatalogue([]byte(catalogueYAML))
	is.NoErr(err)

	ev := NewEvaluator(&scriptedBackend{err: errors.New("quota exceeded")}, list, analytics.DefaultPolicy(), quietLogger())
	results, err := ev.EvaluateAll(context.Background(), sample(), nil)
	is.True(errors.Is(err, dialogue.ErrGeneration))
	is.Equal(len(results), 0)

	_, err = ev.EvaluateAll(context.Background(), transcript.Transcript{}, nil)
	is.True(err != nil) // nothing to evaluate
}
