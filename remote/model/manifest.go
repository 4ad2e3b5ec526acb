package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is a set of model descriptors declared together.
type Manifest struct {
	Models []Descriptor `json:"models" yaml:"models"`
}

// LoadManifest loads a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data, path)
}

// ParseManifest parses manifest data. The format is picked from the file
// extension; unknown extensions try JSON first, then YAML.
func ParseManifest(data []byte, filename string) (*Manifest, error) {
	var m Manifest

	if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	} else if strings.HasSuffix(filename, ".json") {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &m); err != nil {
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("parse manifest: %w", err)
			}
		}
	}

	return &m, nil
}

// Validate validates every descriptor and the references between them.
func (m *Manifest) Validate() error {
	var errs []string

	names := make(map[string]bool, len(m.Models))
	for _, d := range m.Models {
		if names[d.Name] {
			errs = append(errs, fmt.Sprintf("model %q: declared twice", d.Name))
		}
		names[d.Name] = true
	}

	for _, d := range m.Models {
		if err := d.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		for _, r := range d.Relations {
			if r.Model != "" && !names[r.Model] && !r.Polymorphic {
				errs = append(errs, fmt.Sprintf("model %q: relation %q targets unknown model %q", d.Name, r.Name, r.Model))
			}
			if r.Through != "" && !names[r.Through] {
				errs = append(errs, fmt.Sprintf("model %q: relation %q goes through unknown model %q", d.Name, r.Name, r.Through))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return nil
}

// Get returns the descriptor with the given name.
func (m *Manifest) Get(name string) (Descriptor, bool) {
	for _, d := range m.Models {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
