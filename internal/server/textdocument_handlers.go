package server

import (
	"errors"
	"fmt"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/session"
	"github.com/tadfisher/idea-lsp/internal/workspace"
)

var errNoSession = errors.New("no workspace is open")

func (s *Server) openSession() (*session.Session, error) {
	sess := s.currentSession()
	if sess == nil {
		return nil, errNoSession
	}
	return sess, nil
}

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	sess, err := s.openSession()
	if err != nil {
		return err
	}
	return sess.OpenFile(s.requestContext(context), params.TextDocument.URI, params.TextDocument.Text)
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	sess, err := s.openSession()
	if err != nil {
		return err
	}
	uri := params.TextDocument.URI
	if err := sess.ApplyChanges(s.requestContext(context), uri, params.ContentChanges); err != nil {
		return fmt.Errorf("%s: %w", uri, err)
	}
	return nil
}

func (s *Server) textDocumentDidSave(
	context *glsp.Context,
	params *protocol.DidSaveTextDocumentParams,
) error {
	sess, err := s.openSession()
	if err != nil {
		return err
	}
	ctx := s.requestContext(context)
	if params.Text != nil {
		return sess.UpdateFile(ctx, params.TextDocument.URI, *params.Text)
	}
	return sess.ReloadFile(ctx, params.TextDocument.URI)
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	sess, err := s.openSession()
	if err != nil {
		return err
	}
	return sess.ReloadFile(s.requestContext(context), params.TextDocument.URI)
}

func (s *Server) workspaceDidChangeWatchedFiles(
	context *glsp.Context,
	params *protocol.DidChangeWatchedFilesParams,
) error {
	sess, err := s.openSession()
	if err != nil {
		return err
	}
	uris := make([]string, len(params.Changes))
	for i, change := range params.Changes {
		uris[i] = change.URI
	}
	ctx := s.requestContext(context)
	build, err := sess.FilesChanged(ctx, uris)
	if err != nil {
		return err
	}
	if build {
		refreshAsync(s, sess.Workspace())
	}
	return nil
}

// refreshAsync re-runs the integrations without blocking the document queue.
func refreshAsync(s *Server, w *workspace.Workspace) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		w.Refresh(s.lifetime)
	}()
}
