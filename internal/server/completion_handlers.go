package server

import (
	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/clementpoiret/bibli-ls/internal/completion"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// textDocumentCompletion never fails: anything that prevents a completion
// yields an empty list.
func (s *Server) textDocumentCompletion(
	context *glsp.Context,
	params *protocol.CompletionParams,
) (any, error) {
	list := protocol.CompletionList{
		IsIncomplete: false,
		Items:        []protocol.CompletionItem{},
	}

	uri := params.TextDocument.URI
	text, err := s.manager.GetDocument(uri)
	if err != nil {
		log.Debugf("completion: %v", err)
		return list, nil
	}

	cfg := s.currentConfig()
	opts := completion.Options{
		Trigger:        cfg.CitePrefix,
		Lenient:        cfg.Lenient,
		MaxItems:       cfg.Completion.MaxItems,
		DocFormat:      cfg.Completion.DocFormat,
		CharacterLimit: cfg.Hover.CharacterLimit,
	}
	if doc, err := s.manager.Parsed(uri); err == nil {
		opts.Region = doc
	}

	kind := protocol.CompletionItemKindField
	for _, item := range completion.Resolve(s.index.Snapshot(), string(text), params.Position, opts) {
		detail := item.Detail
		filter := item.FilterText
		list.Items = append(list.Items, protocol.CompletionItem{
			Label:  item.Label,
			Kind:   &kind,
			Detail: &detail,
			Documentation: protocol.MarkupContent{
				Kind:  protocol.MarkupKindMarkdown,
				Value: item.Documentation,
			},
			FilterText: &filter,
			TextEdit: protocol.TextEdit{
				Range:   item.Edit,
				NewText: item.Label,
			},
		})
	}
	return list, nil
}

func (s *Server) textDocumentHover(
	context *glsp.Context,
	params *protocol.HoverParams,
) (*protocol.Hover, error) {
	rec, citation, ok := s.citationAt(params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}
	cfg := s.currentConfig()
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: completion.RenderDoc(rec, cfg.Hover.DocFormat, cfg.Hover.CharacterLimit),
		},
		Range: &citation.Range,
	}, nil
}

// citationAt resolves the citation under pos to its record. Citations in
// regions that cannot hold one are ignored.
func (s *Server) citationAt(
	uri protocol.DocumentUri,
	pos protocol.Position,
) (bibliography.Record, completion.Citation, bool) {
	text, err := s.manager.GetDocument(uri)
	if err != nil {
		return bibliography.Record{}, completion.Citation{}, false
	}
	cfg := s.currentConfig()
	citation, ok := completion.WordAt(string(text), pos, cfg.CitePrefix)
	if !ok {
		return bibliography.Record{}, completion.Citation{}, false
	}
	if doc, err := s.manager.Parsed(uri); err == nil && !doc.IsCitableOffset(citation.Start) {
		return bibliography.Record{}, completion.Citation{}, false
	}
	rec, ok := s.index.Lookup(citation.Key)
	return rec, citation, ok
}
