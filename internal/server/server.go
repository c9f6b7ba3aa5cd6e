package server

import (
	"sync"

	"github.com/clementpoiret/bibli-ls/internal/config"
	"github.com/clementpoiret/bibli-ls/internal/index"
	"github.com/clementpoiret/bibli-ls/internal/library"
	"github.com/clementpoiret/bibli-ls/internal/manager"
	"github.com/clementpoiret/bibli-ls/internal/resolver"
	"github.com/clementpoiret/bibli-ls/internal/scheduler"
	"github.com/clementpoiret/bibli-ls/internal/store"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
)

const Name = "bibli-ls"

// ReloadCommand re-reads every bibliography file.
const ReloadCommand = "bibli.reload"

var log = commonlog.GetLogger("bibli.server")

type Server struct {
	handler *protocol.Handler
	version string

	mu        sync.RWMutex
	config    config.Config
	workspace *resolver.Workspace
	notify    glsp.NotifyFunc

	index   *index.Index
	manager *manager.DocumentManager
	sched   *scheduler.Scheduler
	loader  *library.Loader
	cache   store.Store

	diagMu      sync.Mutex
	diagnostics map[string][]protocol.Diagnostic
}

// New creates the language server state. Run it through NewServer, or
// drive Handler directly.
func New(version string) *Server {
	s := &Server{
		version:     version,
		config:      config.Default(),
		index:       index.New(),
		manager:     manager.NewDocumentManager(),
		diagnostics: make(map[string][]protocol.Diagnostic),
	}
	s.handler = &protocol.Handler{
		Initialize:                      s.initialize,
		Initialized:                     s.initialized,
		Shutdown:                        s.shutdown,
		SetTrace:                        s.setTrace,
		TextDocumentDidOpen:             s.textDocumentDidOpen,
		TextDocumentDidChange:           s.textDocumentDidChange,
		TextDocumentDidSave:             s.textDocumentDidSave,
		TextDocumentDidClose:            s.textDocumentDidClose,
		TextDocumentCompletion:          s.textDocumentCompletion,
		TextDocumentHover:               s.textDocumentHover,
		TextDocumentDefinition:          s.textDocumentDefinition,
		TextDocumentReferences:          s.textDocumentReferences,
		WorkspaceSymbol:                 s.workspaceSymbol,
		WorkspaceExecuteCommand:         s.workspaceExecuteCommand,
		WorkspaceDidChangeWatchedFiles:  s.workspaceDidChangeWatchedFiles,
		WorkspaceDidChangeConfiguration: s.workspaceDidChangeConfiguration,
	}
	return s
}

// Handler exposes the protocol handlers.
func (s *Server) Handler() *protocol.Handler {
	return s.handler
}

func NewServer(version string) (*server.Server, error) {
	ls := New(version)
	return server.NewServer(ls.handler, Name, false), nil
}

func (s *Server) currentConfig() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Server) root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.workspace == nil {
		return ""
	}
	return s.workspace.Root()
}
