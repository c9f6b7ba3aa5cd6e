package server

import (
	"fmt"
	"reflect"

	"github.com/clementpoiret/bibli-ls/internal/completion"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	uri := params.TextDocument.URI
	path := pathOf(uri)
	log.Debugf("open %s", path)

	text := []byte(params.TextDocument.Text)
	if err := s.manager.Open(uri, path, text); err != nil {
		return err
	}
	if s.tracksBibfile(path) {
		return s.applyBibfile(path, text)
	}
	s.publishDiagnostics(context.Notify, uri)
	return nil
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	uri := params.TextDocument.URI
	if err := s.manager.ApplyChanges(uri, params.ContentChanges); err != nil {
		return fmt.Errorf("failed to apply changes: %w", err)
	}

	path := pathOf(uri)
	if s.tracksBibfile(path) {
		text, err := s.manager.GetDocument(uri)
		if err != nil {
			return err
		}
		return s.applyBibfile(path, text)
	}
	s.publishDiagnostics(context.Notify, uri)
	return nil
}

func (s *Server) textDocumentDidSave(
	context *glsp.Context,
	params *protocol.DidSaveTextDocumentParams,
) error {
	uri := params.TextDocument.URI
	path := pathOf(uri)
	if !s.tracksBibfile(path) {
		s.publishDiagnostics(context.Notify, uri)
		return nil
	}
	if params.Text != nil {
		return s.applyBibfile(path, []byte(*params.Text))
	}
	if err := s.loader.Reload(path); err != nil {
		return err
	}
	s.refreshDiagnostics()
	return nil
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	uri := params.TextDocument.URI
	path := pathOf(uri)
	log.Debugf("close %s", path)
	s.manager.Release(uri)

	s.diagMu.Lock()
	_, published := s.diagnostics[uri]
	delete(s.diagnostics, uri)
	s.diagMu.Unlock()
	if published {
		context.Notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: []protocol.Diagnostic{},
		})
	}

	// unsaved edits of a bibliography are dropped with the buffer
	if s.tracksBibfile(path) {
		if err := s.loader.Reload(path); err != nil {
			return err
		}
		s.refreshDiagnostics()
	}
	return nil
}

func (s *Server) tracksBibfile(path string) bool {
	return s.loader != nil && s.loader.Tracks(path)
}

// applyBibfile indexes the live text of an open bibliography and refreshes
// the diagnostics of every open document.
func (s *Server) applyBibfile(path string, text []byte) error {
	if err := s.loader.Apply(path, &text); err != nil {
		return fmt.Errorf("failed to index %s: %w", path, err)
	}
	s.refreshDiagnostics()
	return nil
}

// refreshDiagnostics republishes the diagnostics of every open document.
func (s *Server) refreshDiagnostics() {
	s.mu.RLock()
	notify := s.notify
	s.mu.RUnlock()
	for _, uri := range s.manager.URIs() {
		s.publishDiagnostics(notify, uri)
	}
}

// resetDiagnostics forgets what was published so that the next refresh
// sends everything again.
func (s *Server) resetDiagnostics() {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	s.diagnostics = make(map[string][]protocol.Diagnostic)
}

// publishDiagnostics warns about every citation of uri whose key is not in
// the index. Unchanged diagnostics are not sent again.
func (s *Server) publishDiagnostics(notify glsp.NotifyFunc, uri string) {
	if notify == nil {
		return
	}
	cfg := s.currentConfig()
	path := pathOf(uri)
	if s.tracksBibfile(path) || !hasExtension(path, cfg.FileExtensions) {
		return
	}
	text, err := s.manager.GetDocument(uri)
	if err != nil {
		return
	}
	doc, err := s.manager.Parsed(uri)
	if err != nil {
		return
	}

	snap := s.index.Snapshot()
	severity := protocol.DiagnosticSeverityWarning
	source := Name
	diagnostics := []protocol.Diagnostic{}
	for _, c := range completion.Citations(string(text), cfg.CitePrefix) {
		if !doc.IsCitableOffset(c.Start) {
			continue
		}
		if _, ok := snap.Lookup(c.Key); ok {
			continue
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    c.Range,
			Severity: &severity,
			Source:   &source,
			Message:  fmt.Sprintf("Item \"%s\" does not exist in library", c.Key),
		})
	}

	s.diagMu.Lock()
	if previous, ok := s.diagnostics[uri]; ok && reflect.DeepEqual(previous, diagnostics) {
		s.diagMu.Unlock()
		return
	}
	s.diagnostics[uri] = diagnostics
	s.diagMu.Unlock()

	notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}
