// Package server is the language server of one client connection. It
// decodes JSON-RPC messages with glsp's handler table, runs requests on a
// worker pool and applies document notifications in arrival order per URI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/config"
	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/scheduler"
	"github.com/tadfisher/idea-lsp/internal/session"
)

var log = commonlog.GetLogger("idea-lsp.server")

const Name = "idea-lsp"

// Version is reported in the initialize result.
var Version = "dev"

type state int32

const (
	stateCreated state = iota
	stateConnected
	stateInitialized
	stateServing
	stateShuttingDown
	stateExited
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateConnected:
		return "connected"
	case stateInitialized:
		return "initialized"
	case stateServing:
		return "serving"
	case stateShuttingDown:
		return "shutting down"
	case stateExited:
		return "exited"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Option func(*Server)

// WithExitFunc replaces os.Exit as the handler of the exit notification.
func WithExitFunc(fn func(code int)) Option {
	return func(s *Server) { s.exitFn = fn }
}

// Server serves a single connection and owns its workspace.
type Server struct {
	id      string
	hosts   *host.Lazy
	cfg     config.Config
	handler *protocol.Handler
	exitFn  func(int)

	state       atomic.Int32
	shutdownReq atomic.Bool

	pool  *scheduler.Pool
	queue *scheduler.KeyedQueue

	lifetime context.Context
	cancel   context.CancelFunc
	bg       sync.WaitGroup

	mu       sync.Mutex
	session  *session.Session
	inflight map[jsonrpc2.ID]context.CancelFunc

	// contexts maps the glsp context of a running message to its
	// cancellation context.
	contexts sync.Map
}

// New returns a server for one connection. hosts is shared by every
// connection of the process; cfg holds the defaults that the client's
// initializationOptions are merged over.
func New(hosts *host.Lazy, cfg config.Config, opts ...Option) *Server {
	lifetime, cancel := context.WithCancel(context.Background())
	s := &Server{
		id:       uuid.NewString(),
		hosts:    hosts,
		cfg:      cfg,
		exitFn:   os.Exit,
		queue:    scheduler.NewKeyedQueue(),
		lifetime: lifetime,
		cancel:   cancel,
		inflight: make(map[jsonrpc2.ID]context.CancelFunc),
	}
	s.handler = &protocol.Handler{
		Initialize:                     s.initialize,
		Initialized:                    s.initialized,
		Shutdown:                       s.shutdown,
		SetTrace:                       s.setTrace,
		WorkspaceDidChangeWatchedFiles: s.workspaceDidChangeWatchedFiles,
		WorkspaceSymbol:                s.workspaceSymbol,
		TextDocumentDidOpen:            s.textDocumentDidOpen,
		TextDocumentDidChange:          s.textDocumentDidChange,
		TextDocumentDidSave:            s.textDocumentDidSave,
		TextDocumentDidClose:           s.textDocumentDidClose,
		TextDocumentDefinition:         s.textDocumentDefinition,
		TextDocumentReferences:         s.textDocumentReferences,
		TextDocumentRename:             s.textDocumentRename,
		TextDocumentDocumentSymbol:     s.textDocumentDocumentSymbol,
		TextDocumentDocumentHighlight:  s.textDocumentDocumentHighlight,
		TextDocumentHover:              s.textDocumentHover,
		TextDocumentCompletion:         s.textDocumentCompletion,
		TextDocumentFormatting:         s.textDocumentFormatting,
		TextDocumentRangeFormatting:    s.textDocumentRangeFormatting,
		TextDocumentCodeLens:           s.textDocumentCodeLens,
		TextDocumentCodeAction:         s.textDocumentCodeAction,
	}
	for _, opt := range opts {
		opt(s)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	s.pool = scheduler.NewPool(workers)
	return s
}

func (s *Server) ID() string { return s.id }

func (s *Server) currentState() state { return state(s.state.Load()) }

func (s *Server) transition(from, to state) bool {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		log.Infof("session %s: %s -> %s", s.id[:8], from, to)
		return true
	}
	return false
}

// Serve runs the connection until the client disconnects or ctx is done.
func (s *Server) Serve(ctx context.Context, stream jsonrpc2.ObjectStream) error {
	if !s.transition(stateCreated, stateConnected) {
		return errors.New("server is already serving a connection")
	}
	conn := jsonrpc2.NewConn(ctx, stream, s, jsonrpc2.SetLogger(rpcLogger{}))
	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		conn.Close()
		<-conn.DisconnectNotify()
	}
	s.teardown()
	return nil
}

func (s *Server) teardown() {
	s.cancel()
	s.queue.Wait()
	s.pool.Stop()
	s.bg.Wait()
	if err := s.closeSession(); err != nil {
		log.Errorf("session %s: %s", s.id[:8], err)
	}
	s.state.Store(int32(stateExited))
	log.Infof("session %s: disconnected", s.id[:8])
}

func (s *Server) currentSession() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Server) closeSession() error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Handle implements jsonrpc2.Handler. It runs on the read loop, so it only
// decides where a message runs and never does semantic work itself.
func (s *Server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	log.Debugf("<- %s", req.Method)
	switch req.Method {
	case protocol.MethodCancelRequest:
		s.cancelRequest(req)
		return
	case protocol.MethodExit:
		s.exit(conn)
		return
	}

	if err := s.admit(req.Method); err != nil {
		if req.Notif {
			log.Warningf("dropping %s: %s", req.Method, err.Message)
		} else {
			s.reply(conn, req, nil, err)
		}
		return
	}

	switch {
	case isLifecycle(req.Method):
		result, err := s.dispatch(s.lifetime, conn, req)
		if !req.Notif {
			s.reply(conn, req, result, err)
		}
	case req.Notif:
		s.queue.Enqueue(s.lifetime, documentKey(req), scheduler.Task{
			Name: req.Method,
			Execute: func(ctx context.Context) error {
				_, err := s.dispatch(ctx, conn, req)
				return err
			},
		})
	default:
		s.serveAsync(conn, req)
	}
}

func isLifecycle(method string) bool {
	switch method {
	case protocol.MethodInitialize, protocol.MethodInitialized, protocol.MethodShutdown, protocol.MethodSetTrace:
		return true
	}
	return false
}

// admit checks method against the lifecycle state.
func (s *Server) admit(method string) *jsonrpc2.Error {
	st := s.currentState()
	switch method {
	case protocol.MethodInitialize:
		if st != stateConnected {
			return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server is already initialized"}
		}
		return nil
	case protocol.MethodInitialized:
		if st != stateInitialized {
			return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: fmt.Sprintf("unexpected initialized notification while %s", st)}
		}
		return nil
	}
	switch {
	case st < stateInitialized:
		return &jsonrpc2.Error{Code: codeServerNotInitialized, Message: "server not initialized"}
	case st >= stateShuttingDown:
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server is shutting down"}
	case st == stateInitialized && method != protocol.MethodShutdown && method != protocol.MethodSetTrace:
		return &jsonrpc2.Error{Code: codeServerNotInitialized, Message: "waiting for the initialized notification"}
	}
	return nil
}

// serveAsync runs a request on the pool once the notifications that arrived
// before it for the same document have been applied.
func (s *Server) serveAsync(conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	ctx, cancel := context.WithCancel(s.lifetime)
	s.track(req.ID, cancel)
	barrier := s.barrier(documentKey(req))

	err := s.pool.Go(ctx, scheduler.Task{
		Name: req.Method,
		Execute: func(ctx context.Context) error {
			defer s.untrack(req.ID)
			var result any
			var err error
			select {
			case <-barrier:
				if err = ctx.Err(); err == nil {
					result, err = s.dispatch(ctx, conn, req)
				}
			case <-ctx.Done():
				err = ctx.Err()
			}
			s.reply(conn, req, result, err)
			return err
		},
	})
	if err != nil {
		s.untrack(req.ID)
		s.reply(conn, req, nil, err)
	}
}

func (s *Server) barrier(key string) <-chan struct{} {
	if key == "" {
		return s.queue.BarrierAll()
	}
	return s.queue.Barrier(key)
}

func (s *Server) track(id jsonrpc2.ID, cancel context.CancelFunc) {
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()
}

func (s *Server) untrack(id jsonrpc2.ID) {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Server) cancelRequest(req *jsonrpc2.Request) {
	var params struct {
		ID jsonrpc2.ID `json:"id"`
	}
	if req.Params == nil || json.Unmarshal(*req.Params, &params) != nil {
		log.Warning("malformed $/cancelRequest")
		return
	}
	s.mu.Lock()
	cancel, ok := s.inflight[params.ID]
	s.mu.Unlock()
	if ok {
		log.Debugf("cancelling request %s", params.ID)
		cancel()
	}
}

// dispatch decodes the message with the handler table and runs it.
func (s *Server) dispatch(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	gctx := &glsp.Context{
		Method: req.Method,
		Notify: func(method string, params any) {
			if err := conn.Notify(ctx, method, params); err != nil {
				log.Warningf("notify %s: %s", method, err)
			}
		},
		Call: func(method string, params any, result any) {
			if err := conn.Call(ctx, method, params, result); err != nil {
				log.Warningf("call %s: %s", method, err)
			}
		},
	}
	if req.Params != nil {
		gctx.Params = *req.Params
	}
	s.contexts.Store(gctx, ctx)
	defer s.contexts.Delete(gctx)

	result, validMethod, validParams, err := s.handler.Handle(gctx)
	switch {
	case !validMethod:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)}
	case !validParams:
		e := &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "invalid params"}
		if err != nil {
			e.Message = err.Error()
		}
		return nil, e
	case err != nil:
		return nil, err
	}
	return result, nil
}

// requestContext returns the cancellation context of the message being
// handled.
func (s *Server) requestContext(gctx *glsp.Context) context.Context {
	if ctx, ok := s.contexts.Load(gctx); ok {
		return ctx.(context.Context)
	}
	return s.lifetime
}

func (s *Server) reply(conn *jsonrpc2.Conn, req *jsonrpc2.Request, result any, err error) {
	ctx := context.Background()
	if err != nil {
		rpcErr := toRPCError(req.Method, err)
		log.Errorf("%s: %s", req.Method, rpcErr.Message)
		if err := conn.ReplyWithError(ctx, req.ID, rpcErr); err != nil {
			log.Warningf("reply %s: %s", req.Method, err)
		}
		return
	}
	log.Debugf("-> %s", req.Method)
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		log.Warningf("reply %s: %s", req.Method, err)
	}
}

// documentKey returns the document URI a message is about, or "" for
// workspace-wide messages.
func documentKey(req *jsonrpc2.Request) string {
	if req.Params == nil {
		return ""
	}
	var params struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return ""
	}
	return params.TextDocument.URI
}

// rpcLogger routes jsonrpc2's own diagnostics to commonlog.
type rpcLogger struct{}

func (rpcLogger) Printf(format string, v ...any) {
	log.Debugf(format, v...)
}
