package server

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/clementpoiret/bibli-ls/internal/resolver"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func showMessage(notify glsp.NotifyFunc, kind protocol.MessageType, message string) {
	if notify == nil {
		return
	}
	notify("window/showMessage", protocol.ShowMessageParams{
		Type:    kind,
		Message: message,
	})
}

// pathOf maps a document uri to a filesystem path. Non file uris are kept
// as they are so that untitled buffers still work.
func pathOf(uri protocol.DocumentUri) string {
	path, err := resolver.URIToPath(uri)
	if err != nil {
		return uri
	}
	return path
}

func hasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
}

func contains(r protocol.Range, pos protocol.Position) bool {
	if pos.Line < r.Start.Line || pos.Line > r.End.Line {
		return false
	}
	if pos.Line == r.Start.Line && pos.Character < r.Start.Character {
		return false
	}
	if pos.Line == r.End.Line && pos.Character > r.End.Character {
		return false
	}
	return true
}
