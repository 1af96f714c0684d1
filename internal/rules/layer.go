package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Fragment is the partial rule definition a layer may carry for the
// default rule or for a single resource type. Pointer fields distinguish
// "not set" (inherit from lower priority) from an explicit zero value.
type Fragment struct {
	Segments         []string       `json:"segments,omitempty"`
	MaxLength        *int           `json:"max_length,omitempty"`
	RequireOrgPrefix *bool          `json:"require_org_prefix,omitempty"`
	NameTemplate     *string        `json:"name_template,omitempty"`
	SummaryTemplate  *string        `json:"summary_template,omitempty"`
	Display          []DisplayField `json:"display,omitempty"`
	Validators       *Validators    `json:"validators,omitempty"`
}

// Layer is one prioritized overlay of naming policy.
type Layer struct {
	Name      string              `json:"name"`
	Priority  *int                `json:"priority"`
	Enabled   *bool               `json:"enabled,omitempty"`
	Default   *Fragment           `json:"default,omitempty"`
	Resources map[string]Fragment `json:"resources,omitempty"`
}

func (l Layer) enabled() bool {
	return l.Enabled == nil || *l.Enabled
}

func (l Layer) validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: layer is missing required name", ErrConfig)
	}
	if l.Priority == nil {
		return fmt.Errorf("%w: layer %q is missing required priority", ErrConfig, l.Name)
	}
	return nil
}

// ParseLayer decodes a single JSON layer definition.
func ParseLayer(data []byte) (Layer, error) {
	var layer Layer
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&layer); err != nil {
		return Layer{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := layer.validate(); err != nil {
		return Layer{}, err
	}
	return layer, nil
}

// LoadFile reads one layer from a JSON file.
func LoadFile(path string) (Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layer{}, fmt.Errorf("%w: read %s: %v", ErrConfig, filepath.Base(path), err)
	}
	layer, err := ParseLayer(data)
	if err != nil {
		return Layer{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return layer, nil
}

// LoadDir reads every *.json file under path as a layer. Files are
// returned unsorted; Merge orders them by priority.
func LoadDir(path string) ([]Layer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: rules path %s: %v", ErrConfig, path, err)
	}
	if !info.IsDir() {
		layer, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		return []Layer{layer}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read rules dir: %v", ErrConfig, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	var layers []Layer
	for _, name := range files {
		layer, err := LoadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
