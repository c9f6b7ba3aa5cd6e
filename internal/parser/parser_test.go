package parser_test

import (
	"testing"

	"github.com/clementpoiret/bibli-ls/internal/parser"
	"github.com/clementpoiret/bibli-ls/internal/sitteradapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func at(line, character uint32) protocol.Position {
	return protocol.Position{Line: line, Character: character}
}

const markdownDoc = "# Title\n" +
	"\n" +
	"See @a and `@b`.\n" +
	"\n" +
	"```\n" +
	"@c\n" +
	"```\n"

func TestMarkdownRegions(t *testing.T) {
	doc, err := parser.NewDocument("notes.md", []byte(markdownDoc))
	require.NoError(t, err)
	defer doc.Close()

	assert.True(t, doc.IsCitable(at(2, 5)), "plain paragraph")
	assert.False(t, doc.IsCitable(at(2, 13)), "code span")
	assert.False(t, doc.IsCitable(at(5, 1)), "fenced code block")
	assert.True(t, doc.IsCitable(at(0, 3)), "heading")
}

func TestUnclosedFence(t *testing.T) {
	doc, err := parser.NewDocument("notes.md", []byte("para\n\n```\ncode @te"))
	require.NoError(t, err)
	defer doc.Close()

	assert.True(t, doc.IsCitable(at(0, 2)))
	assert.False(t, doc.IsCitable(at(3, 6)))
	assert.False(t, doc.IsCitable(at(3, 8)), "end of document")
}

func TestIncrementalUpdate(t *testing.T) {
	text := []byte(markdownDoc)
	doc, err := parser.NewDocument("notes.md", text)
	require.NoError(t, err)
	defer doc.Close()

	// remove the opening fence so @c becomes prose
	change := protocol.TextDocumentContentChangeEvent{
		Range: &protocol.Range{Start: at(4, 0), End: at(5, 0)},
		Text:  "",
	}
	edit := sitteradapter.EditFor(change, text)
	text = sitteradapter.ApplyChange(change, text)
	require.NoError(t, doc.Update(edit, text))

	assert.True(t, doc.IsCitable(at(4, 1)))
	assert.False(t, doc.IsCitable(at(2, 13)))

	require.NoError(t, doc.Replace([]byte("plain @x")))
	assert.True(t, doc.IsCitable(at(0, 7)))
}

func TestLineComments(t *testing.T) {
	t.Run("latex", func(t *testing.T) {
		doc, err := parser.NewDocument("paper.tex", []byte("text @a % note @b\n50\\% of @c"))
		require.NoError(t, err)
		defer doc.Close()

		assert.True(t, doc.IsCitable(at(0, 6)))
		assert.False(t, doc.IsCitable(at(0, 16)))
		assert.True(t, doc.IsCitable(at(1, 9)))
		assert.Equal(t, []parser.Span{{Start: 8, End: 18}}, doc.Excluded())
	})

	t.Run("latex cursor at end of comment", func(t *testing.T) {
		doc, err := parser.NewDocument("paper.tex", []byte("text % see @te\nmore"))
		require.NoError(t, err)
		defer doc.Close()

		assert.False(t, doc.IsCitable(at(0, 14)))
		assert.True(t, doc.IsCitable(at(1, 0)))
	})

	t.Run("typst", func(t *testing.T) {
		doc, err := parser.NewDocument("paper.typ", []byte("@a // @b"))
		require.NoError(t, err)
		defer doc.Close()

		assert.True(t, doc.IsCitable(at(0, 1)))
		assert.False(t, doc.IsCitable(at(0, 7)))
		assert.False(t, doc.IsCitable(at(0, 8)), "end of document")
	})

	t.Run("typst url", func(t *testing.T) {
		doc, err := parser.NewDocument("paper.typ", []byte("see https://example.org and @key\n//@hidden\nx // see @te"))
		require.NoError(t, err)
		defer doc.Close()

		assert.True(t, doc.IsCitable(at(0, 30)))
		assert.False(t, doc.IsCitable(at(1, 4)))
		assert.False(t, doc.IsCitable(at(2, 12)))
		assert.Len(t, doc.Excluded(), 2)
	})

	t.Run("plain", func(t *testing.T) {
		doc, err := parser.NewDocument("notes.txt", []byte("```\n@a\n```"))
		require.NoError(t, err)
		defer doc.Close()

		assert.True(t, doc.IsCitable(at(1, 1)))
		assert.Empty(t, doc.Excluded())
	})
}

func TestDialectOf(t *testing.T) {
	assert.Equal(t, parser.DialectMarkdown, parser.DialectOf("a/b.QMD"))
	assert.Equal(t, parser.DialectLaTeX, parser.DialectOf("main.tex"))
	assert.Equal(t, parser.DialectTypst, parser.DialectOf("main.typ"))
	assert.Equal(t, parser.DialectPlain, parser.DialectOf("README"))
}
