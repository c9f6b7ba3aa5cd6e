package server

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/clementpoiret/bibli-ls/internal/completion"
	"github.com/clementpoiret/bibli-ls/internal/resolver"
	"github.com/clementpoiret/bibli-ls/internal/scanner"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// textDocumentDefinition jumps from a citation to the key of its entry.
func (s *Server) textDocumentDefinition(
	context *glsp.Context,
	params *protocol.DefinitionParams,
) (any, error) {
	rec, _, ok := s.citationAt(params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}
	return protocol.Location{
		URI:   resolver.PathToURI(rec.SourceFile),
		Range: rec.Span.Key,
	}, nil
}

func (s *Server) textDocumentReferences(
	context *glsp.Context,
	params *protocol.ReferenceParams,
) ([]protocol.Location, error) {
	key, ok := s.keyAt(params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}

	cfg := s.currentConfig()
	root := s.root()
	var locations []protocol.Location
	if params.Context.IncludeDeclaration {
		if rec, ok := s.index.Lookup(key); ok {
			locations = append(locations, protocol.Location{
				URI:   resolver.PathToURI(rec.SourceFile),
				Range: rec.Span.Key,
			})
		}
	}
	if root == "" {
		return locations, nil
	}

	refs := scanner.FindReferences(root, cfg.FileExtensions, s.manager.Paths(), key, cfg.CitePrefix)
	for _, ref := range refs {
		locations = append(locations, protocol.Location{
			URI:   resolver.PathToURI(ref.Path),
			Range: ref.Range,
		})
	}
	return locations, nil
}

// keyAt finds the key under pos, either a citation in a document or an
// entry key inside an indexed bibliography.
func (s *Server) keyAt(uri protocol.DocumentUri, pos protocol.Position) (string, bool) {
	path := pathOf(uri)
	for _, rec := range s.index.Snapshot().Records(path) {
		if contains(rec.Span.Key, pos) {
			return rec.Key, true
		}
	}

	text, err := s.manager.GetDocument(uri)
	if err != nil {
		return "", false
	}
	citation, ok := completion.WordAt(string(text), pos, s.currentConfig().CitePrefix)
	if !ok {
		return "", false
	}
	return citation.Key, true
}

func (s *Server) workspaceSymbol(
	context *glsp.Context,
	params *protocol.WorkspaceSymbolParams,
) ([]protocol.SymbolInformation, error) {
	maxResults := 128

	records := s.index.Snapshot().All()
	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = rec.Key
	}

	var symbols []protocol.SymbolInformation
	for _, i := range filterByBitapFuzzyParallel(params.Query, keys, maxResults) {
		rec := records[i]
		detail := completion.Detail(rec)
		symbols = append(symbols, protocol.SymbolInformation{
			Name: rec.Key,
			Kind: protocol.SymbolKindKey,
			Location: protocol.Location{
				URI:   resolver.PathToURI(rec.SourceFile),
				Range: rec.Span.Key,
			},
			ContainerName: &detail,
		})
	}
	return symbols, nil
}

// filterByBitapFuzzyParallel returns the indexes of the candidates matching
// pattern with few substitutions, in candidate order. Matching ignores
// ASCII case. An empty pattern matches everything.
func filterByBitapFuzzyParallel(pattern string, candidates []string, maxHits int) []int {
	patternRunes := []rune(strings.ToLower(pattern))
	m := len(patternRunes)
	if m == 0 {
		hits := make([]int, 0, min(maxHits, len(candidates)))
		for i := range candidates {
			if len(hits) == maxHits {
				break
			}
			hits = append(hits, i)
		}
		return hits
	}
	if m > 63 {
		patternRunes = patternRunes[:63]
		m = 63
	}
	// tolerate up to 2 typos, fewer for short patterns
	k := min(2, (m-1)/2)

	var masks [128]uint64
	for i, r := range patternRunes {
		if r < 128 {
			masks[r] |= 1 << uint(i)
		}
	}
	goal := uint64(1) << uint(m)

	var wg sync.WaitGroup
	var hitCount atomic.Int32
	matched := make([]bool, len(candidates))
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))

	for i, text := range candidates {
		if int(hitCount.Load()) >= maxHits {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if bitapFuzzyMatch(strings.ToLower(text), masks, goal, k) {
				matched[i] = true
				hitCount.Add(1)
			}
		}()
	}
	wg.Wait()

	var hits []int
	for i, ok := range matched {
		if ok {
			hits = append(hits, i)
			if len(hits) == maxHits {
				break
			}
		}
	}
	return hits
}

// bitapFuzzyMatch reports whether the pattern behind masks occurs in text
// with at most k substituted characters. Bit i of a state means the first
// i pattern characters end at the current text position.
func bitapFuzzyMatch(text string, masks [128]uint64, goal uint64, k int) bool {
	r := make([]uint64, k+1)
	for d := range r {
		r[d] = 1
	}

	for _, cr := range text {
		var charMask uint64
		if cr < 128 {
			charMask = masks[cr]
		}

		prev := r[0]
		r[0] = ((r[0] & charMask) << 1) | 1
		for d := 1; d <= k; d++ {
			current := r[d]
			// match on this row, or substitute from the row with one error less
			r[d] = (((r[d] & charMask) | prev) << 1) | 1
			prev = current
		}

		if r[k]&goal != 0 {
			return true
		}
	}
	return false
}
