package server

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"

	"github.com/clementpoiret/bibli-ls/internal/config"
	"github.com/clementpoiret/bibli-ls/internal/library"
	"github.com/clementpoiret/bibli-ls/internal/resolver"
	"github.com/clementpoiret/bibli-ls/internal/scanner"
	"github.com/clementpoiret/bibli-ls/internal/scheduler"
	"github.com/clementpoiret/bibli-ls/internal/store"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	workspace, err := resolver.New(rootOf(params))
	if err != nil {
		return nil, err
	}
	log.Infof("root is %s", workspace.Root())

	// Config: defaults, then the project file, then client options
	cfg, err := config.Default().LoadFile(filepath.Join(workspace.Root(), config.FileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warningf("%v", err)
		showMessage(context.Notify, protocol.MessageTypeWarning, err.Error())
	}
	options, err := json.Marshal(params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	cfg, err = cfg.Overlay(config.FromSettings(options))
	if err != nil {
		return nil, err
	}
	log.Debugf("config: %+v", cfg)

	s.mu.Lock()
	s.config = cfg
	s.workspace = workspace
	s.notify = context.Notify
	s.mu.Unlock()

	// Parse cache
	var cache store.Store
	if cfg.Cache {
		cache, err = openCache(workspace)
		if err != nil {
			log.Warningf("running without parse cache: %v", err)
			cache = nil
		}
	}
	s.cache = cache

	s.sched = scheduler.NewScheduler(64)
	s.sched.RunScheduler()
	s.loader = library.New(s.index, s.sched, cache, s.showWarning)
	s.loader.SkipOpen(s.manager.IsOpen)

	if err := s.loader.LoadAll(backgroundContext(), s.bibfiles(cfg, workspace)); err != nil {
		log.Errorf("%v", err)
	}

	syncKind := protocol.TextDocumentSyncKindIncremental

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.True},
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{cfg.CitePrefix},
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{ReloadCommand},
	}

	version := s.version
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	cfg := s.currentConfig()
	s.loader.StartPolling(cfg.PollInterval.Std(), s.refreshDiagnostics)
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	log.Info("shutdown")
	if s.sched != nil {
		s.sched.StopScheduler()
	}
	s.index.Close()
	err := s.manager.CloseAll()
	if s.cache != nil {
		if cerr := s.cache.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) workspaceDidChangeConfiguration(
	context *glsp.Context,
	params *protocol.DidChangeConfigurationParams,
) error {
	raw, err := json.Marshal(params.Settings)
	if err != nil {
		return err
	}
	settings := config.FromSettings(raw)
	if settings == nil {
		return nil
	}

	s.mu.Lock()
	previous := s.config
	cfg, err := previous.Overlay(settings)
	if err != nil {
		s.mu.Unlock()
		showMessage(context.Notify, protocol.MessageTypeWarning, err.Error())
		return nil
	}
	s.config = cfg
	workspace := s.workspace
	s.mu.Unlock()

	if workspace != nil && !slices.Equal(previous.Bibfiles, cfg.Bibfiles) {
		if err := s.loader.LoadAll(backgroundContext(), s.bibfiles(cfg, workspace)); err != nil {
			log.Errorf("%v", err)
		}
	}
	s.resetDiagnostics()
	s.refreshDiagnostics()
	return nil
}

// bibfiles resolves the configured bibliography files, or discovers BibTeX
// files below the root when none are configured.
func (s *Server) bibfiles(cfg config.Config, workspace *resolver.Workspace) []string {
	if len(cfg.Bibfiles) == 0 {
		found := scanner.FindBibfiles(workspace.Root())
		log.Infof("discovered %d bibliography files", len(found))
		return found
	}
	paths := make([]string, 0, len(cfg.Bibfiles))
	for _, p := range cfg.Bibfiles {
		paths = append(paths, workspace.Resolve(p))
	}
	return paths
}

func openCache(workspace *resolver.Workspace) (store.Store, error) {
	dir, err := workspace.StateDir("bibli")
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(filepath.Join(dir, "cache.db"))
}

func rootOf(params *protocol.InitializeParams) string {
	switch {
	case params.RootURI != nil && *params.RootURI != "":
		return *params.RootURI
	case params.RootPath != nil && *params.RootPath != "":
		return *params.RootPath
	case len(params.WorkspaceFolders) > 0:
		return params.WorkspaceFolders[0].URI
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func backgroundContext() context.Context {
	return context.Background()
}

// showWarning is the loader's notifier.
func (s *Server) showWarning(message string) {
	s.mu.RLock()
	notify := s.notify
	s.mu.RUnlock()
	showMessage(notify, protocol.MessageTypeWarning, message)
}
