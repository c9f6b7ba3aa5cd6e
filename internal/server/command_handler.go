package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	switch params.Command {
	case ReloadCommand:
		return nil, s.reload()
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

// reload re-reads every bibliography file, rediscovering them when none are
// configured.
func (s *Server) reload() error {
	log.Info("reloading bibliographies")
	s.mu.RLock()
	cfg, workspace := s.config, s.workspace
	s.mu.RUnlock()
	if workspace == nil || s.loader == nil {
		return nil
	}
	if err := s.loader.LoadAll(backgroundContext(), s.bibfiles(cfg, workspace)); err != nil {
		return err
	}
	s.refreshDiagnostics()
	return nil
}

func (s *Server) workspaceDidChangeWatchedFiles(
	context *glsp.Context,
	params *protocol.DidChangeWatchedFilesParams,
) error {
	if s.loader == nil {
		return nil
	}
	cfg := s.currentConfig()
	open := s.manager.Paths()

	changed := false
	rediscover := false
	for _, event := range params.Changes {
		path := pathOf(event.URI)
		if !s.loader.Tracks(path) {
			// a new BibTeX file joins the discovered set
			if len(cfg.Bibfiles) == 0 && event.Type == protocol.FileChangeTypeCreated &&
				strings.EqualFold(filepath.Ext(path), ".bib") {
				rediscover = true
			}
			continue
		}
		if _, ok := open[path]; ok && event.Type != protocol.FileChangeTypeDeleted {
			// the editor buffer wins over the disk
			continue
		}
		if err := s.loader.Reload(path); err != nil {
			log.Warningf("%v", err)
			continue
		}
		changed = true
	}

	if rediscover {
		return s.reload()
	}
	if changed {
		s.refreshDiagnostics()
	}
	return nil
}
