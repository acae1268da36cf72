package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/tadfisher/idea-lsp/internal/refactor"
	"github.com/tadfisher/idea-lsp/internal/scheduler"
	"github.com/tadfisher/idea-lsp/internal/session"
	"github.com/tadfisher/idea-lsp/internal/sitteradapter"
)

// LSP error codes that jsonrpc2 does not define.
const (
	codeServerNotInitialized = -32002
	codeRequestCancelled     = -32800
	codeRequestFailed        = -32803
)

var errNotImplemented = errors.New("not implemented")

func toRPCError(method string, err error) *jsonrpc2.Error {
	var (
		rpcErr      *jsonrpc2.Error
		rangeErr    *sitteradapter.RangeError
		notFound    *session.FileNotFoundError
		conflictErr *refactor.ConflictError
	)
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, context.Canceled):
		return &jsonrpc2.Error{Code: codeRequestCancelled, Message: "request cancelled"}
	case errors.Is(err, errNotImplemented):
		return &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("not implemented: %s", method)}
	case errors.As(err, &rangeErr), errors.As(err, &notFound):
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	case errors.As(err, &conflictErr):
		e := &jsonrpc2.Error{Code: codeRequestFailed, Message: err.Error()}
		if data, merr := json.Marshal(conflictMessages(conflictErr)); merr == nil {
			raw := json.RawMessage(data)
			e.Data = &raw
		}
		return e
	case errors.Is(err, scheduler.ErrStopped):
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server is shutting down"}
	}
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
}

func conflictMessages(err *refactor.ConflictError) []string {
	messages := make([]string, len(err.Conflicts))
	for i, c := range err.Conflicts {
		messages[i] = c.Message
	}
	return messages
}
