// Package parser models an open document and classifies which of its
// regions may hold citations. Markdown documents are parsed with the
// tree-sitter markdown grammars and re-parsed incrementally on edits.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/clementpoiret/bibli-ls/internal/sitteradapter"
	sitter "github.com/smacker/go-tree-sitter"
	markdown "github.com/smacker/go-tree-sitter/markdown/tree-sitter-markdown"
	markdowninline "github.com/smacker/go-tree-sitter/markdown/tree-sitter-markdown-inline"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("bibli.parser")

var (
	blockLang  = markdown.GetLanguage()
	inlineLang = markdowninline.GetLanguage()
)

// Block and inline node types whose text never holds citations.
var (
	excludedBlocks = map[string]bool{
		"fenced_code_block":   true,
		"indented_code_block": true,
		"html_block":          true,
		"minus_metadata":      true,
		"plus_metadata":       true,
	}
	excludedInline = map[string]bool{
		"code_span":   true,
		"html_tag":    true,
		"latex_block": true,
	}
)

// Dialect selects how a document is classified.
type Dialect int

const (
	DialectPlain    Dialect = iota // every position is citable
	DialectMarkdown                // tree-sitter markdown
	DialectLaTeX                   // `%` line comments excluded
	DialectTypst                   // `//` line comments excluded
)

// DialectOf picks the dialect from the file extension.
func DialectOf(path string) Dialect {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".qmd", ".rmd":
		return DialectMarkdown
	case ".tex", ".ltx", ".sty":
		return DialectLaTeX
	case ".typ":
		return DialectTypst
	default:
		return DialectPlain
	}
}

// Span is a half-open byte range.
type Span struct {
	Start, End int
}

// Document wraps a tree-sitter parser and the current syntax tree of one
// open document.
type Document struct {
	mu       sync.Mutex
	dialect  Dialect
	parser   *sitter.Parser
	inline   *sitter.Parser
	tree     *sitter.Tree
	source   []byte
	excluded []Span
}

// NewDocument parses text according to the dialect of path.
func NewDocument(path string, text []byte) (*Document, error) {
	d := &Document{dialect: DialectOf(path)}
	if d.dialect == DialectMarkdown {
		d.parser = sitter.NewParser()
		d.parser.SetLanguage(blockLang)
		d.inline = sitter.NewParser()
		d.inline.SetLanguage(inlineLang)
	}
	if err := d.parse(text, nil); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Replace discards the syntax tree and parses text from scratch.
func (d *Document) Replace(text []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree != nil {
		d.tree.Close()
		d.tree = nil
	}
	return d.parse(text, nil)
}

// Update applies edit to the current tree and re-parses the new text,
// reusing the unchanged parts of the tree.
func (d *Document) Update(edit sitter.EditInput, text []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree == nil {
		return d.parse(text, nil)
	}
	d.tree.Edit(edit)
	return d.parse(text, d.tree)
}

// parse must be called with mu held or before the document is shared.
func (d *Document) parse(text []byte, old *sitter.Tree) error {
	d.source = text
	switch d.dialect {
	case DialectMarkdown:
		tree, err := d.parser.ParseCtx(context.Background(), old, text)
		if err != nil {
			return fmt.Errorf("failed to parse document: %w", err)
		}
		if old != nil && old != tree {
			old.Close()
		}
		d.tree = tree
		d.excluded = d.markdownExclusions(tree.RootNode())
	case DialectLaTeX:
		d.excluded = lineComments(text, "%", latexComment)
	case DialectTypst:
		d.excluded = lineComments(text, "//", typstComment)
	default:
		d.excluded = nil
	}
	log.Debugf("document parsed, %d excluded regions", len(d.excluded))
	return nil
}

func (d *Document) markdownExclusions(root *sitter.Node) []Span {
	var spans []Span
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch {
		case excludedBlocks[n.Type()]:
			spans = append(spans, Span{int(n.StartByte()), int(n.EndByte())})
			return
		case n.Type() == "inline":
			spans = append(spans, d.inlineExclusions(n)...)
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

// inlineExclusions parses one inline node with the inline grammar.
func (d *Document) inlineExclusions(n *sitter.Node) []Span {
	base := int(n.StartByte())
	tree, err := d.inline.ParseCtx(context.Background(), nil, d.source[base:n.EndByte()])
	if err != nil {
		log.Warningf("failed to parse inline content at byte %d: %v", base, err)
		return nil
	}
	defer tree.Close()

	var spans []Span
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if excludedInline[n.Type()] {
			spans = append(spans, Span{base + int(n.StartByte()), base + int(n.EndByte())})
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(tree.RootNode())
	return spans
}

// lineComments finds comments running from marker through the end of the
// line. A span includes its newline, so a cursor at the end of the comment
// lies inside it. starts decides whether the marker at i opens a comment.
func lineComments(text []byte, marker string, starts func(src string, i int) bool) []Span {
	var spans []Span
	src := string(text)
	for i := 0; i < len(src); {
		j := strings.Index(src[i:], marker)
		if j < 0 {
			break
		}
		start := i + j
		if !starts(src, start) {
			i = start + len(marker)
			continue
		}
		end := strings.IndexByte(src[start:], '\n')
		if end < 0 {
			end = len(src)
		} else {
			end += start + 1
		}
		spans = append(spans, Span{start, end})
		i = end
	}
	return spans
}

// latexComment skips the escaped \%.
func latexComment(src string, i int) bool {
	return i == 0 || src[i-1] != '\\'
}

// typstComment accepts // at line start or after whitespace, so the
// scheme separator of a URL does not open a comment.
func typstComment(src string, i int) bool {
	if i == 0 {
		return true
	}
	switch src[i-1] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// IsCitableOffset reports whether the byte at offset lies outside every
// excluded region.
func (d *Document) IsCitableOffset(offset int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.citable(offset)
}

func (d *Document) citable(offset int) bool {
	i := sort.Search(len(d.excluded), func(i int) bool { return d.excluded[i].End > offset })
	return i == len(d.excluded) || d.excluded[i].Start > offset
}

// IsCitable reports whether a cursor at pos lies outside every excluded
// region. A cursor at the end of the document is still inside a region
// that runs up to it, such as an unclosed code fence.
func (d *Document) IsCitable(pos protocol.Position) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	offset, _ := sitteradapter.PositionToOffset(d.source, pos)
	if n := len(d.excluded); n > 0 && offset == len(d.source) {
		last := d.excluded[n-1]
		if last.End == offset && last.Start < offset {
			return false
		}
	}
	return d.citable(offset)
}

// Excluded returns the regions that cannot hold citations.
func (d *Document) Excluded() []Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Span(nil), d.excluded...)
}

// Close frees any resources held by the Document.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree != nil {
		d.tree.Close()
		d.tree = nil
	}
	if d.parser != nil {
		d.parser.Close()
		d.parser = nil
	}
	if d.inline != nil {
		d.inline.Close()
		d.inline = nil
	}
	return nil
}
