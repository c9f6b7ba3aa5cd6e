// Package bibliography parses bibliography files into records and writes
// records back out. Parsing never fails: entries that cannot be read are
// skipped and the rest of the file is kept.
package bibliography

import (
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("bibli.bibliography")

// Format is a bibliography file dialect.
type Format int

const (
	FormatBibTeX    Format = iota // .bib, .bibtex and anything unknown
	FormatHayagriva               // .yml, .yaml
)

// FormatOf picks the dialect from the file extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatHayagriva
	default:
		return FormatBibTeX
	}
}

// Supported reports whether path has a bibliography extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bib", ".bibtex", ".yml", ".yaml":
		return true
	}
	return false
}

// Parse converts raw bibliography text into records in declaration order.
// Within one file a repeated key overwrites the earlier record in place.
func Parse(path string, text []byte) []Record {
	var records []Record
	switch FormatOf(path) {
	case FormatHayagriva:
		records = parseHayagriva(path, text)
	default:
		records = parseBibTeX(path, text)
	}
	log.Debugf("parsed %d entries from %s", len(records), path)
	return records
}
