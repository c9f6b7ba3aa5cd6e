package bibliography

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// parseHayagriva reads a typst hayagriva bibliography. The top-level mapping
// key is the citation key; nested values are flattened to strings.
func parseHayagriva(path string, src []byte) []Record {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		log.Debugf("%s: skipping unreadable hayagriva file: %v", path, err)
		return nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		log.Debugf("%s: hayagriva root is not a mapping", path)
		return nil
	}

	lines := newLineIndex(src)
	var records []Record
	seen := make(map[string]int)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, entryNode := root.Content[i], root.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode || keyNode.Value == "" || entryNode.Kind != yaml.MappingNode {
			log.Debugf("%s:%d: skipping entry without key or fields", path, keyNode.Line)
			continue
		}

		rec := Record{Key: keyNode.Value, SourceFile: path}
		flatten("", entryNode, &rec.Fields)
		for j, f := range rec.Fields {
			if f.Name == "type" {
				rec.Type = strings.ToLower(f.Value)
				rec.Fields = append(rec.Fields[:j], rec.Fields[j+1:]...)
				break
			}
		}
		if _, ok := rec.Field("year"); !ok {
			if date, ok := rec.Field("date"); ok && len(date) >= 4 {
				rec.Fields = append(rec.Fields, Field{Name: "year", Value: date[:4]})
			}
		}

		start := lines.offset(keyNode.Line-1, 0)
		keyStart := lines.offset(keyNode.Line-1, keyNode.Column-1)
		if keyNode.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
			keyStart++
		}
		rec.Span = Span{
			Start: start,
			End:   len(src),
			Key:   lines.rangeOf(keyStart, keyStart+len(keyNode.Value)),
		}
		if n := len(records); n > 0 && records[n-1].Span.End > start {
			records[n-1].Span.End = start
		}

		if j, ok := seen[rec.Key]; ok {
			records[j] = rec
			continue
		}
		seen[rec.Key] = len(records)
		records = append(records, rec)
	}
	return records
}

func flatten(prefix string, node *yaml.Node, fields *[]Field) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := strings.ToLower(strings.TrimSpace(node.Content[i].Value))
		if prefix != "" {
			name = prefix + "." + name
		}
		value := node.Content[i+1]
		switch value.Kind {
		case yaml.ScalarNode:
			*fields = append(*fields, Field{Name: name, Value: value.Value})
		case yaml.SequenceNode:
			var items []string
			for _, item := range value.Content {
				if item.Kind == yaml.ScalarNode {
					items = append(items, item.Value)
				}
			}
			*fields = append(*fields, Field{Name: name, Value: strings.Join(items, " and ")})
		case yaml.MappingNode:
			flatten(name, value, fields)
		}
	}
}

// HyagrivaBib writes records as a hayagriva YAML file.
type HyagrivaBib struct {
	filePath string
}

// NewHyagrivaBib creates a new HyagrivaBib instance
func NewHyagrivaBib(filePath string) *HyagrivaBib {
	return &HyagrivaBib{
		filePath: filePath,
	}
}

// Append adds new entries to the existing bibliography file
func (h *HyagrivaBib) Append(records []Record) error {
	return writeFile(h.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, records, WriteHayagriva)
}

// Override replaces the entire bibliography file with new entries
func (h *HyagrivaBib) Override(records []Record) error {
	return writeFile(h.filePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, records, WriteHayagriva)
}

// WriteHayagriva encodes records as one hayagriva mapping.
func WriteHayagriva(w io.Writer, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, rec := range records {
		root.Content = append(root.Content, scalar(rec.Key), formatEntry(rec))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return enc.Close()
}

// formatEntry builds the mapping node of a single entry.
func formatEntry(rec Record) *yaml.Node {
	typ := "Misc"
	if rec.Type != "" {
		typ = cases.Title(language.English).String(rec.Type)
	}
	entry := &yaml.Node{Kind: yaml.MappingNode}
	entry.Content = append(entry.Content, scalar("type"), scalar(typ))

	for _, f := range rec.Fields {
		switch f.Name {
		case "author", "editor":
			seq := &yaml.Node{Kind: yaml.SequenceNode}
			for _, name := range strings.Split(f.Value, " and ") {
				if name = strings.TrimSpace(name); name != "" {
					seq.Content = append(seq.Content, scalar(name))
				}
			}
			entry.Content = append(entry.Content, scalar(f.Name), seq)
		case "year":
			if _, ok := rec.Field("date"); !ok {
				entry.Content = append(entry.Content, scalar("date"), scalar(f.Value))
			}
		default:
			entry.Content = append(entry.Content, scalar(f.Name), scalar(f.Value))
		}
	}
	return entry
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
