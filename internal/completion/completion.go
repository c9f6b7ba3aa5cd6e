// Package completion decides whether a cursor sits inside a citation and
// turns the matching index records into completion items. It only reads
// the index.
package completion

import (
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// DefaultTrigger starts a citation.
const DefaultTrigger = "@"

// Source is the read side of the citation index.
type Source interface {
	WithPrefix(prefix string, lenient bool) []bibliography.Record
}

// Region tells whether a position of the document may hold a citation.
type Region interface {
	IsCitable(pos protocol.Position) bool
}

// RegionFunc adapts a function to Region.
type RegionFunc func(pos protocol.Position) bool

func (f RegionFunc) IsCitable(pos protocol.Position) bool { return f(pos) }

type Options struct {
	Trigger  string
	Lenient  bool
	MaxItems int

	DocFormat      []string
	CharacterLimit int

	// Region is consulted at the cursor. A nil Region accepts every position.
	Region Region
}

func (o Options) trigger() string {
	if o.Trigger == "" {
		return DefaultTrigger
	}
	return o.Trigger
}

// Context is the citation under the cursor.
type Context struct {
	// TriggerSpan covers the trigger and the typed prefix up to the cursor.
	TriggerSpan protocol.Range
	// Replace extends TriggerSpan to the end of the key being edited.
	Replace     protocol.Range
	TypedPrefix string
}

// Item is one completion candidate.
type Item struct {
	Label         string
	Detail        string
	Documentation string
	FilterText    string
	Edit          protocol.Range
	Record        bibliography.Record
}

// IsKeyRune reports whether r may appear in a typed citation key.
func IsKeyRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '-' || r == '_'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Detect finds the citation context at pos. The trigger must directly
// precede the key being typed and must itself start the line or follow a
// non-word character, so addresses like me@example.org do not count.
func Detect(text string, pos protocol.Position, trigger string) (Context, bool) {
	if trigger == "" {
		trigger = DefaultTrigger
	}
	cursor := pos.IndexIn(text)
	if cursor < 0 || cursor > len(text) {
		return Context{}, false
	}

	start := cursor
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !IsKeyRune(r) {
			break
		}
		start -= size
	}
	if !strings.HasSuffix(text[:start], trigger) {
		return Context{}, false
	}
	at := start - len(trigger)
	if at > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:at])
		if isWordRune(r) {
			return Context{}, false
		}
	}

	end := cursor
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !IsKeyRune(r) {
			break
		}
		end += size
	}

	triggerStart := protocol.Position{
		Line:      pos.Line,
		Character: pos.Character - utf16Len(text[at:cursor]),
	}
	return Context{
		TriggerSpan: protocol.Range{Start: triggerStart, End: pos},
		Replace: protocol.Range{
			Start: triggerStart,
			End:   protocol.Position{Line: pos.Line, Character: pos.Character + utf16Len(text[cursor:end])},
		},
		TypedPrefix: text[start:cursor],
	}, true
}

// Resolve returns the completion items for pos, in index order. It returns
// nil whenever pos is not inside a citation.
func Resolve(src Source, text string, pos protocol.Position, opts Options) []Item {
	if opts.Region != nil && !opts.Region.IsCitable(pos) {
		return nil
	}
	ctx, ok := Detect(text, pos, opts.trigger())
	if !ok {
		return nil
	}

	records := src.WithPrefix(ctx.TypedPrefix, false)
	if len(records) == 0 && opts.Lenient {
		records = src.WithPrefix(ctx.TypedPrefix, true)
	}
	if opts.MaxItems > 0 && len(records) > opts.MaxItems {
		records = records[:opts.MaxItems]
	}

	items := make([]Item, 0, len(records))
	for _, rec := range records {
		label := opts.trigger() + rec.Key
		items = append(items, Item{
			Label:         label,
			Detail:        Detail(rec),
			Documentation: RenderDoc(rec, opts.DocFormat, opts.CharacterLimit),
			FilterText:    label,
			Edit:          ctx.Replace,
			Record:        rec,
		})
	}
	return items
}

// Detail is the one line summary shown next to a label.
func Detail(rec bibliography.Record) string {
	title, hasTitle := rec.Field("title")
	title = Clean(title, 0)
	year, hasYear := rec.Field("year")
	switch {
	case hasTitle && hasYear:
		return title + " (" + year + ")"
	case hasTitle:
		return title
	}
	if author, ok := rec.Field("author"); ok {
		return Clean(author, 0)
	}
	return rec.Type
}

func utf16Len(s string) uint32 {
	var n uint32
	for _, r := range s {
		n += uint32(utf16.RuneLen(r))
	}
	return n
}
