package presentation

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, FormatYAML:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unsupported format %q (json, yaml)", name)
	}
}

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format Format
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer, format Format) *Formatter {
	return &Formatter{
		writer: writer,
		format: format,
	}
}

// FormatStatus writes the status projection.
func (f *Formatter) FormatStatus(status StatusDTO) error {
	return f.encode(status)
}

// FormatSessions writes a session list.
func (f *Formatter) FormatSessions(sessions []SessionDTO) error {
	return f.encode(sessions)
}

// FormatExport writes a full session export: summaries with their events and
// check-ins inlined.
func (f *Formatter) FormatExport(sessions []SessionDTO) error {
	return f.encode(sessions)
}

func (f *Formatter) encode(v any) error {
	switch f.format {
	case FormatYAML:
		encoder := yaml.NewEncoder(f.writer)
		defer func() { _ = encoder.Close() }()
		return encoder.Encode(v)
	default:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
}
