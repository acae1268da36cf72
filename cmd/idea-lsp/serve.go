package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/spf13/cobra"

	"github.com/tadfisher/idea-lsp/internal/server"
	"github.com/tadfisher/idea-lsp/internal/transport"
)

// serveFlags select the transport. None selects stdio.
type serveFlags struct {
	port      int
	socket    string
	pipeRead  string
	pipeWrite string
	pipe      string
	websocket string
}

var serveOpts serveFlags

// exitCode is the code requested by the client's exit notification.
var exitCode int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func addServeFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.IntVar(&serveOpts.port, "port", 0, "listen on this TCP port")
	flags.StringVar(&serveOpts.socket, "socket", "", "listen on this unix socket")
	flags.StringVar(&serveOpts.pipeRead, "pipe-read", "", "read requests from this unix socket (with --pipe-write)")
	flags.StringVar(&serveOpts.pipeWrite, "pipe-write", "", "write responses to this unix socket (with --pipe-read)")
	flags.StringVar(&serveOpts.pipe, "pipe", "", "listen on this Windows named pipe")
	flags.StringVar(&serveOpts.websocket, "websocket", "", "listen for WebSocket connections on this address")
}

func (f serveFlags) validate() error {
	selected := 0
	for _, set := range []bool{f.port != 0, f.socket != "", f.pipeRead != "" || f.pipeWrite != "", f.pipe != "", f.websocket != ""} {
		if set {
			selected++
		}
	}
	if selected > 1 {
		return errors.New("choose at most one transport")
	}
	if (f.pipeRead == "") != (f.pipeWrite == "") {
		return errors.New("--pipe-read and --pipe-write go together")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := serveOpts.validate(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hosts := newHostFactory(cfg)
	defer func() {
		if err := hosts.Close(); err != nil {
			log.Errorf("closing host: %s", err)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// A single-connection transport ends the process on exit; listeners
	// only drop the connection.
	single := func(ctx context.Context, stream jsonrpc2.ObjectStream) error {
		return server.New(hosts, cfg, server.WithExitFunc(func(code int) {
			exitCode = code
			cancel()
		})).Serve(ctx, stream)
	}
	multi := func(ctx context.Context, stream jsonrpc2.ObjectStream) error {
		return server.New(hosts, cfg, server.WithExitFunc(func(int) {})).Serve(ctx, stream)
	}

	log.Infof("starting idea-lsp %s", version)
	switch f := serveOpts; {
	case f.port != 0:
		return transport.ListenAndServe(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(f.port)), multi)
	case f.socket != "":
		return transport.ListenAndServe(ctx, "unix://"+f.socket, multi)
	case f.pipe != "":
		return transport.ListenAndServe(ctx, "npipe://"+f.pipe, multi)
	case f.websocket != "":
		l, err := net.Listen("tcp", f.websocket)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", f.websocket, err)
		}
		return transport.WebSocket(ctx, l, multi)
	case f.pipeRead != "":
		return transport.Pipes(ctx, f.pipeRead, f.pipeWrite, single)
	}
	return transport.Stdio(ctx, single)
}
