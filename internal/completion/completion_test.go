package completion_test

import (
	"testing"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/clementpoiret/bibli-ls/internal/completion"
	"github.com/clementpoiret/bibli-ls/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const library = `@article{test1,
  title = {First {Test}},
  author = {Doe, John},
  year = {2020},
  url = {https://example.org/1}
}
@book{test2, title = {Second}}
@misc{test3, author = {Roe, Jane}}
@misc{reference_test, title = {Reference}}
`

func newIndex(t *testing.T) *index.Index {
	t.Helper()
	idx := index.New()
	idx.UpdateFile("refs.bib", bibliography.Parse("refs.bib", []byte(library)))
	require.Equal(t, 4, idx.Snapshot().Len())
	return idx
}

func labels(items []completion.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Label)
	}
	return out
}

func at(line, character uint32) protocol.Position {
	return protocol.Position{Line: line, Character: character}
}

func TestResolve(t *testing.T) {
	idx := newIndex(t)
	opts := completion.Options{}

	t.Run("end to end", func(t *testing.T) {
		doc := "# Title\n[@\n"
		items := completion.Resolve(idx.Snapshot(), doc, at(1, 2), opts)
		assert.Equal(t, []string{"@test1", "@test2", "@test3", "@reference_test"}, labels(items))
	})

	t.Run("no trigger", func(t *testing.T) {
		assert.Empty(t, completion.Resolve(idx.Snapshot(), "plain test", at(0, 10), opts))
		assert.Empty(t, completion.Resolve(idx.Snapshot(), "", at(0, 0), opts))
	})

	t.Run("prefix is case sensitive", func(t *testing.T) {
		items := completion.Resolve(idx.Snapshot(), "see @t", at(0, 6), opts)
		assert.Equal(t, []string{"@test1", "@test2", "@test3"}, labels(items))
		assert.Empty(t, completion.Resolve(idx.Snapshot(), "see @T", at(0, 6), opts))
	})

	t.Run("lenient fallback", func(t *testing.T) {
		items := completion.Resolve(idx.Snapshot(), "see @REF", at(0, 8), completion.Options{Lenient: true})
		assert.Equal(t, []string{"@reference_test"}, labels(items))
	})

	t.Run("trigger at end of document", func(t *testing.T) {
		assert.Len(t, completion.Resolve(idx.Snapshot(), "text @", at(0, 6), opts), 4)
	})

	t.Run("email addresses are not citations", func(t *testing.T) {
		assert.Empty(t, completion.Resolve(idx.Snapshot(), "mail me@te", at(0, 10), opts))
	})

	t.Run("nearest trigger wins", func(t *testing.T) {
		items := completion.Resolve(idx.Snapshot(), "@reference_test; @te", at(0, 20), opts)
		assert.Equal(t, []string{"@test1", "@test2", "@test3"}, labels(items))
		items = completion.Resolve(idx.Snapshot(), "@@te", at(0, 4), opts)
		assert.Len(t, items, 3)
	})

	t.Run("non citable region", func(t *testing.T) {
		never := completion.RegionFunc(func(protocol.Position) bool { return false })
		assert.Empty(t, completion.Resolve(idx.Snapshot(), "@", at(0, 1), completion.Options{Region: never}))
	})

	t.Run("max items", func(t *testing.T) {
		items := completion.Resolve(idx.Snapshot(), "@", at(0, 1), completion.Options{MaxItems: 2})
		assert.Equal(t, []string{"@test1", "@test2"}, labels(items))
	})

	t.Run("custom trigger", func(t *testing.T) {
		items := completion.Resolve(idx.Snapshot(), `\cite{test`, at(0, 10), completion.Options{Trigger: `\cite{`})
		assert.Equal(t, []string{`\cite{test1`, `\cite{test2`, `\cite{test3`}, labels(items))
	})

	t.Run("item contents", func(t *testing.T) {
		items := completion.Resolve(idx.Snapshot(), "a @tes more", at(0, 5), completion.Options{
			DocFormat: []string{"# {entry_type}: {title}", "_{author}_", "{url}"},
		})
		require.Len(t, items, 3)
		first := items[0]
		assert.Equal(t, "First Test (2020)", first.Detail)
		assert.Equal(t, "@test1", first.FilterText)
		assert.Equal(t, "# article: First Test\n_Doe, John_\n<https://example.org/1>", first.Documentation)
		assert.Equal(t, protocol.Range{Start: at(0, 2), End: at(0, 6)}, first.Edit)

		assert.Equal(t, "Second", items[1].Detail)
		assert.Equal(t, "Roe, Jane", items[2].Detail)
		assert.Equal(t, "_Roe, Jane_", items[2].Documentation)
	})

	t.Run("idempotent", func(t *testing.T) {
		doc := "text [@"
		first := completion.Resolve(idx.Snapshot(), doc, at(0, 7), opts)
		second := completion.Resolve(idx.Snapshot(), doc, at(0, 7), opts)
		assert.Equal(t, first, second)
	})

	t.Run("deleted file", func(t *testing.T) {
		idx := newIndex(t)
		idx.UpdateFile("other.bib", bibliography.Parse("other.bib", []byte("@misc{test2, title = {Other}}\n@misc{unique}")))
		idx.RemoveFile("refs.bib")
		assert.Equal(t, []string{"@test2", "@unique"}, labels(completion.Resolve(idx.Snapshot(), "@", at(0, 1), opts)))
	})
}

func TestDetect(t *testing.T) {
	ctx, ok := completion.Detect("x\n  (@smi", at(1, 7), "@")
	require.True(t, ok)
	assert.Equal(t, "smi", ctx.TypedPrefix)
	assert.Equal(t, protocol.Range{Start: at(1, 3), End: at(1, 7)}, ctx.TriggerSpan)

	ctx, ok = completion.Detect("@smith2020 text", at(0, 3), "@")
	require.True(t, ok)
	assert.Equal(t, "sm", ctx.TypedPrefix)
	assert.Equal(t, protocol.Range{Start: at(0, 0), End: at(0, 10)}, ctx.Replace)

	ctx, ok = completion.Detect("é @k", at(0, 4), "@")
	require.True(t, ok)
	assert.Equal(t, at(0, 2), ctx.TriggerSpan.Start)

	_, ok = completion.Detect("word", at(0, 4), "@")
	assert.False(t, ok)
}

func TestCitations(t *testing.T) {
	doc := "See @test1, and [@test2; -@missing].\nmail me@example.org\n@end:"
	cites := completion.Citations(doc, "@")
	require.Len(t, cites, 4)
	assert.Equal(t, "test1", cites[0].Key)
	assert.Equal(t, protocol.Range{Start: at(0, 5), End: at(0, 10)}, cites[0].Range)
	assert.Equal(t, "test2", cites[1].Key)
	assert.Equal(t, "missing", cites[2].Key)
	assert.Equal(t, "end", cites[3].Key)
	assert.Equal(t, protocol.Range{Start: at(2, 1), End: at(2, 4)}, cites[3].Range)
	assert.Equal(t, "end", doc[cites[3].Start:cites[3].End])
}

func TestWordAt(t *testing.T) {
	doc := "intro\nas shown in @smith2020, foo"
	for _, ch := range []uint32{12, 13, 16, 22} {
		c, ok := completion.WordAt(doc, at(1, ch), "@")
		require.True(t, ok, ch)
		assert.Equal(t, "smith2020", c.Key)
		assert.Equal(t, protocol.Range{Start: at(1, 13), End: at(1, 22)}, c.Range)
	}

	_, ok := completion.WordAt(doc, at(1, 3), "@")
	assert.False(t, ok)
	_, ok = completion.WordAt("me@example", at(0, 5), "@")
	assert.False(t, ok)
}

func TestRenderDoc(t *testing.T) {
	rec := bibliography.Record{
		Key:  "k",
		Type: "book",
		Fields: []bibliography.Field{
			{Name: "title", Value: "{{Deep}} \\vphantom{x}Learning\nwith \\{braces\\}"},
			{Name: "abstract", Value: "abcdefghij"},
		},
	}
	doc := completion.RenderDoc(rec, []string{"{key}: {title}", "{abstract}", "_{author}_", "---"}, 5)
	assert.Equal(t, "k: Deep ...\nabcde...\n---", doc)

	assert.Equal(t, "Deep xLearning with braces", completion.Clean(rec.Fields[0].Value, 0))
	assert.Empty(t, completion.RenderDoc(rec, nil, 0))
}
