package bibliography

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Field is a single `name = value` pair of an entry. Name is trimmed and
// lower-cased, Value is the raw text without its outer delimiters.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Span locates an entry inside its bibliography file.
// Start and End are byte offsets, Key is the LSP range of the citation key.
type Span struct {
	Start int            `json:"start"`
	End   int            `json:"end"`
	Key   protocol.Range `json:"key"`
}

// Record is one parsed bibliography entry.
type Record struct {
	Key        string  `json:"key"`
	Type       string  `json:"type"`
	SourceFile string  `json:"source_file"`
	Fields     []Field `json:"fields"`
	Span       Span    `json:"span"`
}

// Field returns the value of the named field.
func (r Record) Field(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Bibliography writes records back out in one dialect.
type Bibliography interface {
	Append([]Record) error
	Override([]Record) error
}

// NewBibliography returns the writer matching the dialect of filePath.
func NewBibliography(filePath string) Bibliography {
	if FormatOf(filePath) == FormatHayagriva {
		return NewHyagrivaBib(filePath)
	}
	return NewBibTeXBib(filePath)
}

func writeFile(path string, flag int, records []Record, encode func(io.Writer, []Record) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	if err := encode(file, records); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
