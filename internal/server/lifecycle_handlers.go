package server

import (
	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/refactor"
	"github.com/tadfisher/idea-lsp/internal/session"
	"github.com/tadfisher/idea-lsp/internal/workspace"
)

// MethodConflictsDetected notifies the client of an aborted refactoring.
const MethodConflictsDetected = "refactor/conflictsDetected"

// ConflictsDetectedParams are the params of MethodConflictsDetected.
type ConflictsDetectedParams struct {
	RefactoringID string     `json:"refactoringId"`
	Conflicts     []Conflict `json:"conflicts"`
}

type Conflict struct {
	Message string                `json:"message"`
	URI     *protocol.DocumentUri `json:"uri,omitempty"`
}

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	ctx := s.requestContext(context)
	if params.RootURI == nil || *params.RootURI == "" {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "initialize requires rootUri"}
	}

	// Config
	cfg, err := s.cfg.Merge(params.InitializationOptions)
	if err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	log.Debugf("config: %+v", cfg)

	// Workspace
	hctx, err := s.hosts.Get()
	if err != nil {
		s.fail(err)
		return nil, err
	}
	w, err := workspace.Open(ctx, hctx, *params.RootURI, workspace.Options{
		SandboxDir:    cfg.SandboxDir,
		Exclude:       cfg.Exclude,
		Watch:         cfg.Watch,
		WatchDebounce: cfg.WatchDebounce(),
	})
	if err != nil {
		s.fail(err)
		return nil, err
	}
	if err := w.ImportProject(ctx); err != nil {
		w.Close()
		s.fail(err)
		return nil, err
	}

	notify := context.Notify
	sess := session.New(w, refactor.Options{
		SearchTextOccurrences: cfg.SearchTextOccurrences,
		RenameVariables:       cfg.RenameVariables,
	}, refactor.ListenerFunc(func(id string, conflicts []host.Conflict) {
		conflictsDetected(notify, w, id, conflicts)
	}))
	s.mu.Lock()
	s.cfg = cfg
	s.session = sess
	s.mu.Unlock()

	// Refresh
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		for _, res := range w.Refresh(s.lifetime) {
			if res.Err != nil {
				notify(protocol.ServerWindowLogMessage, protocol.LogMessageParams{
					Type:    protocol.MessageTypeWarning,
					Message: res.Err.Error(),
				})
			}
		}
	}()

	syncKind := protocol.TextDocumentSyncKindIncremental

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.True},
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", "@", "#"},
	}

	s.transition(stateConnected, stateInitialized)
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &Version,
		},
	}, nil
}

// fail leaves the connection unusable after a failed initialize.
func (s *Server) fail(err error) {
	log.Errorf("session %s: initialize failed: %s", s.id[:8], err)
	s.transition(stateConnected, stateShuttingDown)
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	s.transition(stateInitialized, stateServing)
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	if !s.transition(stateServing, stateShuttingDown) && !s.transition(stateInitialized, stateShuttingDown) {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "shutdown already requested"}
	}
	s.shutdownReq.Store(true)
	<-s.queue.BarrierAll()
	return s.closeSession()
}

// exit closes the connection and hands the exit code to exitFn: 0 after a
// shutdown, 1 otherwise.
func (s *Server) exit(conn *jsonrpc2.Conn) {
	code := 1
	if s.shutdownReq.Load() {
		code = 0
	}
	if err := s.closeSession(); err != nil {
		log.Errorf("session %s: %s", s.id[:8], err)
	}
	s.state.Store(int32(stateExited))
	conn.Close()
	log.Infof("session %s: exit with code %d", s.id[:8], code)
	s.exitFn(code)
}

func (s *Server) setTrace(
	context *glsp.Context,
	params *protocol.SetTraceParams,
) error {
	log.Debugf("trace: %s", params.Value)
	return nil
}

func conflictsDetected(notify glsp.NotifyFunc, w *workspace.Workspace, id string, conflicts []host.Conflict) {
	params := ConflictsDetectedParams{RefactoringID: id, Conflicts: make([]Conflict, len(conflicts))}
	for i, c := range conflicts {
		params.Conflicts[i].Message = c.Message
		if c.Element != nil {
			if uri, err := w.Translate(c.Element.Path()); err == nil {
				params.Conflicts[i].URI = &uri
			}
		}
	}
	notify(MethodConflictsDetected, params)

	message := "Rename aborted: " + conflicts[0].Message
	if len(conflicts) > 1 {
		message += " (and more)"
	}
	notify(protocol.ServerWindowShowMessage, protocol.ShowMessageParams{
		Type:    protocol.MessageTypeWarning,
		Message: message,
	})
}
