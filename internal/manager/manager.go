package manager

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/clementpoiret/bibli-ls/internal/parser"
	"github.com/clementpoiret/bibli-ls/internal/sitteradapter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrDocumentNotFound = errors.New("document not loaded")

// DocumentManager encapsulates parser and document state for each open URI.
type DocumentManager struct {
	mu   sync.Mutex
	docs map[string]*openDocument
}

type openDocument struct {
	path   string
	text   []byte
	parsed *parser.Document
}

// NewDocumentManager creates an initialized DocumentManager.
func NewDocumentManager() *DocumentManager {
	return &DocumentManager{
		docs: make(map[string]*openDocument),
	}
}

// Open stores text for uri and parses it. Opening a known uri replaces it.
func (dm *DocumentManager) Open(uri, path string, text []byte) error {
	parsed, err := parser.NewDocument(path, text)
	if err != nil {
		return fmt.Errorf("failed to create parser for %s: %w", uri, err)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if old, ok := dm.docs[uri]; ok {
		old.parsed.Close()
	}
	dm.docs[uri] = &openDocument{path: path, text: text, parsed: parsed}
	return nil
}

// ApplyChanges applies LSP content changes in order. Range changes are
// forwarded to the syntax tree as incremental edits, whole-document
// changes trigger a fresh parse.
func (dm *DocumentManager) ApplyChanges(uri string, changes []any) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	doc, ok := dm.docs[uri]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, uri)
	}
	for _, raw := range changes {
		switch change := raw.(type) {
		case protocol.TextDocumentContentChangeEvent:
			if change.Range == nil {
				if err := dm.replace(doc, []byte(change.Text)); err != nil {
					return err
				}
				continue
			}
			edit := sitteradapter.EditFor(change, doc.text)
			doc.text = sitteradapter.ApplyChange(change, doc.text)
			if err := doc.parsed.Update(edit, doc.text); err != nil {
				return fmt.Errorf("failed to update %s: %w", uri, err)
			}
		case protocol.TextDocumentContentChangeEventWhole:
			if err := dm.replace(doc, []byte(change.Text)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported content change %T for %s", raw, uri)
		}
	}
	return nil
}

func (dm *DocumentManager) replace(doc *openDocument, text []byte) error {
	doc.text = text
	if err := doc.parsed.Replace(text); err != nil {
		return fmt.Errorf("failed to reparse %s: %w", doc.path, err)
	}
	return nil
}

// GetDocument returns the current document bytes for a URI.
func (dm *DocumentManager) GetDocument(uri string) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	doc, ok := dm.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, uri)
	}
	return doc.text, nil
}

// Parsed returns the syntax model of an open document.
func (dm *DocumentManager) Parsed(uri string) (*parser.Document, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	doc, ok := dm.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, uri)
	}
	return doc.parsed, nil
}

// Paths maps the filesystem path of every open document to its text.
func (dm *DocumentManager) Paths() map[string][]byte {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	out := make(map[string][]byte, len(dm.docs))
	for _, doc := range dm.docs {
		out[doc.path] = doc.text
	}
	return out
}

// IsOpen reports whether a document with the given filesystem path is open.
func (dm *DocumentManager) IsOpen(path string) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for _, doc := range dm.docs {
		if doc.path == path {
			return true
		}
	}
	return false
}

// URIs lists the open documents in lexical order.
func (dm *DocumentManager) URIs() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	uris := make([]string, 0, len(dm.docs))
	for uri := range dm.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Release frees parser and document for a URI.
func (dm *DocumentManager) Release(uri string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if doc, ok := dm.docs[uri]; ok {
		doc.parsed.Close()
		delete(dm.docs, uri)
	}
}

// CloseAll cleans up all parsers.
func (dm *DocumentManager) CloseAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for uri, doc := range dm.docs {
		if err := doc.parsed.Close(); err != nil {
			return fmt.Errorf("error closing parser for %s: %w", uri, err)
		}
	}
	dm.docs = make(map[string]*openDocument)
	return nil
}
