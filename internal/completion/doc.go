package completion

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

var latexNoise = strings.NewReplacer(
	"{{", "",
	"}}", "",
	`\vphantom`, "",
	`\{`, "",
	`\}`, "",
)

// Clean strips LaTeX braces from a field value, flattens newlines and cuts
// it to limit characters. A limit of zero keeps the whole value.
func Clean(value string, limit int) string {
	value = latexNoise.Replace(value)
	value = strings.NewReplacer("{", "", "}", "", "\r\n", " ", "\n", " ").Replace(value)
	value = strings.TrimSpace(value)
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		runes := []rune(value)
		value = string(runes[:limit]) + "..."
	}
	return value
}

// RenderDoc fills every line of format with the record's values and joins
// the lines with newlines. {key} and {entry_type} name the citation key and
// the entry type, any other placeholder names a field. Lines referring to a
// missing value are left out.
func RenderDoc(rec bibliography.Record, format []string, limit int) string {
	var lines []string
	for _, line := range format {
		missing := false
		rendered := placeholder.ReplaceAllStringFunc(line, func(m string) string {
			value, ok := lookup(rec, m[1:len(m)-1], limit)
			if !ok {
				missing = true
			}
			return value
		})
		if !missing {
			lines = append(lines, rendered)
		}
	}
	return strings.Join(lines, "\n")
}

func lookup(rec bibliography.Record, name string, limit int) (string, bool) {
	switch name {
	case "key":
		return rec.Key, true
	case "entry_type":
		return rec.Type, rec.Type != ""
	}
	value, ok := rec.Field(name)
	if !ok {
		return "", false
	}
	value = Clean(value, limit)
	if name == "url" {
		value = "<" + value + ">"
	}
	return value, true
}
