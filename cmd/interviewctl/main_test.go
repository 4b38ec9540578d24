package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-interview/internal/analytics"
	"github.com/matryer/is"
	"github.com/spf13/cobra"
)

func TestRunMetrics(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "interview.json")
	doc := `[{"role":"medico","text":"Come sta?","start":0,"end":2},{"role":"paziente","text":"bene grazie","start":3,"end":4}]`
	is.NoErr(os.WriteFile(path, []byte(doc), 0o644))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	is.NoErr(runMetrics(cmd, path, 5, "block"))

	var m analytics.Metrics
	is.NoErr(json.Unmarshal(out.Bytes(), &m))
	is.Equal(m.AvgResponseLatency, 1.0)
	is.Equal(m.AvgResponseLength, 2.0)
}

func TestRunMetricsRejectsUnknownMode(t *testing.T) {
	is := is.New(t)
	err := runMetrics(&cobra.Command{}, "missing.json", 5, "words")
	is.True(err != nil)
}

func TestRunValidateCatalogue(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	catalogue := filepath.Join(dir, "catalogue.yaml")
	is.NoErr(os.WriteFile(catalogue, []byte("- fenomeno: Logorrea\n  descrizione: eccesso di parole\n"), 0o644))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	is.NoErr(runValidate(cmd, "", "", catalogue))
	is.True(bytes.Contains(out.Bytes(), []byte("1 phenomena")))
}

func TestRunValidateTranscript(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	is.NoErr(os.WriteFile(good, []byte(`{"transcription":[{"role":"medico","text":"Salve","start":0,"end":1},{"role":"paziente","text":"","start":2,"end":2}]}`), 0o644))
	bad := filepath.Join(dir, "bad.json")
	is.NoErr(os.WriteFile(bad, []byte(`[{"role":"infermiere","text":"x","start":0,"end":1}]`), 0o644))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	is.NoErr(runValidate(cmd, good, "", ""))
	is.True(bytes.Contains(out.Bytes(), []byte("2 utterances, 1 blank")))
	is.True(runValidate(cmd, bad, "", "") != nil)
}
