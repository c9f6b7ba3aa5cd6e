package bibliography

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	errMissingKey   = errors.New("missing citation key")
	errMissingType  = errors.New("missing entry type")
	errMissingOpen  = errors.New("missing opening delimiter")
	errUnbalanced   = errors.New("unbalanced delimiters")
	errBadField     = errors.New("malformed field")
	errUnterminated = errors.New("unterminated entry")
)

// bibScanner is a depth-counting scanner over BibTeX source. It never
// recurses: nested braces are tracked with a counter so a broken entry can
// be abandoned at the next line that starts a new entry.
type bibScanner struct {
	path    string
	src     []byte
	pos     int
	lines   *lineIndex
	strings map[string]string
}

func parseBibTeX(path string, src []byte) []Record {
	s := &bibScanner{
		path:    path,
		src:     src,
		lines:   newLineIndex(src),
		strings: make(map[string]string),
	}

	var records []Record
	seen := make(map[string]int)
	for {
		start := s.nextAt()
		if start < 0 {
			break
		}
		rec, err := s.entry(start)
		if err != nil {
			at := s.lines.position(start)
			log.Debugf("%s:%d:%d: skipping entry: %v", path, at.Line+1, at.Character+1, err)
			s.pos = s.recover(start + 1)
			continue
		}
		if rec == nil {
			continue
		}
		rec.SourceFile = path
		if i, ok := seen[rec.Key]; ok {
			log.Debugf("%s: duplicate key %q, keeping the later entry", path, rec.Key)
			records[i] = *rec
			continue
		}
		seen[rec.Key] = len(records)
		records = append(records, *rec)
	}
	return records
}

// nextAt returns the offset of the next `@` or -1.
func (s *bibScanner) nextAt() int {
	i := bytes.IndexByte(s.src[s.pos:], '@')
	if i < 0 {
		s.pos = len(s.src)
		return -1
	}
	return s.pos + i
}

// recover finds the next entry that begins a line.
func (s *bibScanner) recover(from int) int {
	for i := from; i < len(s.src); i++ {
		if s.src[i] == '@' && s.startsEntry(i) {
			return i
		}
	}
	return len(s.src)
}

// startsEntry reports whether an entry header `@type{` or `@type(` begins at
// i and only whitespace precedes it on its line.
func (s *bibScanner) startsEntry(i int) bool {
	for j := i - 1; j >= 0 && s.src[j] != '\n'; j-- {
		if !isSpace(s.src[j]) {
			return false
		}
	}
	j := i + 1
	for j < len(s.src) && isIdent(s.src[j]) {
		j++
	}
	if j == i+1 {
		return false
	}
	for j < len(s.src) && isSpace(s.src[j]) {
		j++
	}
	return j < len(s.src) && (s.src[j] == '{' || s.src[j] == '(')
}

// entry scans the block starting at the `@` at start. It returns a nil
// record for @comment, @preamble and @string blocks.
func (s *bibScanner) entry(start int) (*Record, error) {
	s.pos = start + 1
	s.skipSpace()
	typ := strings.ToLower(s.ident())
	if typ == "" {
		return nil, errMissingType
	}
	s.skipSpace()
	if s.eof() || (s.peek() != '{' && s.peek() != '(') {
		return nil, errMissingOpen
	}
	closer := byte('}')
	if s.peek() == '(' {
		closer = ')'
	}
	s.pos++

	switch typ {
	case "comment", "preamble":
		if err := s.skipBlock(closer); err != nil {
			return nil, err
		}
		return nil, nil
	case "string":
		fields, err := s.fields(closer)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			s.strings[f.Name] = f.Value
		}
		return nil, nil
	}

	s.skipSpace()
	keyStart := s.pos
	for !s.eof() && isKeyByte(s.peek()) {
		s.pos++
	}
	keyEnd := s.pos
	if keyEnd == keyStart {
		return nil, errMissingKey
	}
	s.skipSpace()
	if s.eof() {
		return nil, errUnterminated
	}

	rec := &Record{
		Key:  string(s.src[keyStart:keyEnd]),
		Type: typ,
		Span: Span{Start: start, Key: s.lines.rangeOf(keyStart, keyEnd)},
	}

	switch s.peek() {
	case closer:
		s.pos++
	case ',':
		s.pos++
		fields, err := s.fields(closer)
		if err != nil {
			return nil, err
		}
		rec.Fields = fields
	default:
		return nil, errMissingKey
	}
	rec.Span.End = s.pos
	return rec, nil
}

// fields reads `name = value` pairs up to and including closer.
func (s *bibScanner) fields(closer byte) ([]Field, error) {
	var fields []Field
	for {
		s.skipSpace()
		if s.eof() {
			return nil, errUnterminated
		}
		if s.peek() == closer {
			s.pos++
			return fields, nil
		}
		if s.peek() == ',' {
			s.pos++
			continue
		}
		name := strings.ToLower(strings.TrimSpace(s.ident()))
		if name == "" {
			return nil, errBadField
		}
		s.skipSpace()
		if s.eof() || s.peek() != '=' {
			return nil, errBadField
		}
		s.pos++
		value, err := s.value(closer)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: name, Value: value})
		s.skipSpace()
		if s.eof() {
			return nil, errUnterminated
		}
		switch s.peek() {
		case ',':
			s.pos++
		case closer:
			s.pos++
			return fields, nil
		default:
			return nil, errBadField
		}
	}
}

// value reads one field value, joining `#` concatenations.
func (s *bibScanner) value(closer byte) (string, error) {
	var parts []string
	for {
		s.skipSpace()
		if s.eof() {
			return "", errUnterminated
		}
		switch c := s.peek(); {
		case c == '{':
			s.pos++
			part, err := s.delimited('}')
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		case c == '"':
			s.pos++
			part, err := s.delimited('"')
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		case isIdent(c):
			word := s.ident()
			if expanded, ok := s.strings[strings.ToLower(word)]; ok {
				word = expanded
			}
			parts = append(parts, word)
		default:
			return "", errBadField
		}
		s.skipSpace()
		if s.eof() || s.peek() != '#' {
			return strings.Join(parts, ""), nil
		}
		s.pos++
	}
}

// delimited reads up to the matching end byte, counting nested braces. The
// opening delimiter has already been consumed.
func (s *bibScanner) delimited(end byte) (string, error) {
	start := s.pos
	depth := 0
	for !s.eof() {
		c := s.peek()
		switch {
		case c == '\\' && s.pos+1 < len(s.src):
			s.pos += 2
			continue
		case c == '{':
			depth++
		case c == '}' && depth > 0:
			depth--
		case c == end && depth == 0:
			value := string(s.src[start:s.pos])
			s.pos++
			return value, nil
		case c == '}':
			return "", errUnbalanced
		case c == '@' && s.startsEntry(s.pos):
			return "", errUnbalanced
		}
		s.pos++
	}
	return "", errUnbalanced
}

// skipBlock skips a balanced block whose opener was consumed.
func (s *bibScanner) skipBlock(closer byte) error {
	opener := byte('{')
	if closer == ')' {
		opener = '('
	}
	depth := 0
	for !s.eof() {
		c := s.peek()
		s.pos++
		switch {
		case c == opener:
			depth++
		case c == closer && depth > 0:
			depth--
		case c == closer:
			return nil
		}
	}
	return errUnbalanced
}

func (s *bibScanner) ident() string {
	start := s.pos
	for !s.eof() && isIdent(s.peek()) {
		s.pos++
	}
	return string(s.src[start:s.pos])
}

func (s *bibScanner) skipSpace() {
	for !s.eof() && isSpace(s.peek()) {
		s.pos++
	}
}

func (s *bibScanner) eof() bool  { return s.pos >= len(s.src) }
func (s *bibScanner) peek() byte { return s.src[s.pos] }

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdent(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == ':' || c == '.' || c == '+' || c == '/' || c >= 0x80
}

// isKeyByte accepts anything BibTeX allows inside a citation key.
func isKeyByte(c byte) bool {
	switch c {
	case ',', '{', '}', '(', ')', '"', '=', '#', '%', '\'', '~':
		return false
	}
	return !isSpace(c)
}

// BibTeXBib writes records as a BibTeX file.
type BibTeXBib struct {
	filePath string
}

func NewBibTeXBib(filePath string) *BibTeXBib {
	return &BibTeXBib{filePath: filePath}
}

func (b *BibTeXBib) Append(records []Record) error {
	return writeFile(b.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, records, WriteBibTeX)
}

func (b *BibTeXBib) Override(records []Record) error {
	return writeFile(b.filePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, records, WriteBibTeX)
}

// WriteBibTeX encodes records as BibTeX entries with braced values, one
// field per line.
func WriteBibTeX(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		typ := rec.Type
		if typ == "" {
			typ = "misc"
		}
		fmt.Fprintf(bw, "@%s{%s,\n", typ, rec.Key)
		for _, f := range rec.Fields {
			fmt.Fprintf(bw, "  %s = {%s},\n", f.Name, braced(f.Value))
		}
		bw.WriteString("}\n\n")
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// braced escapes the braces of a value unless they already balance.
func braced(value string) string {
	depth := 0
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth < 0 {
			break
		}
	}
	if depth == 0 {
		return value
	}
	return strings.NewReplacer("{", "\\{", "}", "\\}").Replace(value)
}
