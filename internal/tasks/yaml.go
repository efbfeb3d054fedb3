package tasks

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type exportFile struct {
	Version int    `yaml:"version"`
	Tasks   []Task `yaml:"tasks"`
}

const exportVersion = 1

// ExportYAML writes list as a versioned YAML document.
func ExportYAML(w io.Writer, list []Task) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(exportFile{Version: exportVersion, Tasks: list}); err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	return enc.Close()
}

// ImportYAML reads a document written by ExportYAML.
func ImportYAML(r io.Reader) ([]Task, error) {
	var f exportFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	if f.Version > exportVersion {
		return nil, fmt.Errorf("unsupported export version %d", f.Version)
	}
	return f.Tasks, nil
}
