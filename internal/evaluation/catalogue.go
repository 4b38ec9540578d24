// Package evaluation scores interview transcripts against a catalogue of
// clinical phenomena using a language model backend.
package evaluation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Phenomenon describes one rated phenomenon. Field names follow the
// catalogue files clinicians already maintain.
type Phenomenon struct {
	Name           string `yaml:"fenomeno" json:"fenomeno"`
	Description    string `yaml:"descrizione" json:"descrizione"`
	Example        string `yaml:"esempio" json:"esempio"`
	Scale          string `yaml:"punteggio" json:"punteggio"`
	OutputTemplate string `yaml:"modello_di_output" json:"modello_di_output"`
}

type catalogueFile struct {
	Phenomena []Phenomenon `yaml:"fenomeni" json:"fenomeni"`
}

// ParseCatalogue decodes a catalogue from YAML or JSON. Both a top-level
// list and an object with a "fenomeni" list are accepted.
func ParseCatalogue(data []byte) ([]Phenomenon, error) {
	unmarshal := yaml.Unmarshal
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		unmarshal = json.Unmarshal
	}
	var list []Phenomenon
	if err := unmarshal(data, &list); err != nil {
		var wrapped catalogueFile
		if err2 := unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse catalogue: %w", err)
		}
		list = wrapped.Phenomena
	}
	if len(list) == 0 {
		return nil, errors.New("catalogue has no phenomena")
	}
	seen := make(map[string]struct{}, len(list))
	for i, p := range list {
		if p.Name == "" {
			return nil, fmt.Errorf("catalogue entry %d has no name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate phenomenon %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return list, nil
}

// LoadCatalogue reads a catalogue file.
func LoadCatalogue(path string) ([]Phenomenon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return ParseCatalogue(data)
}
