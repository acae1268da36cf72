// Package transport carries JSON-RPC streams between clients and the
// language server: stdio, TCP, unix sockets, pipe pairs, Windows named
// pipes and WebSocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("idea-lsp.transport")

// ServeFunc serves one connection until it ends.
type ServeFunc func(ctx context.Context, stream jsonrpc2.ObjectStream) error

// Stream frames rwc with LSP Content-Length headers.
func Stream(rwc io.ReadWriteCloser) jsonrpc2.ObjectStream {
	return jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
}

// duplex joins a reader and a writer into one connection.
type duplex struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (d duplex) Read(p []byte) (int, error)  { return d.in.Read(p) }
func (d duplex) Write(p []byte) (int, error) { return d.out.Write(p) }

func (d duplex) Close() error {
	if err := d.in.Close(); err != nil {
		d.out.Close()
		return err
	}
	return d.out.Close()
}

// Stdio serves a single connection on the process's stdin and stdout.
func Stdio(ctx context.Context, serve ServeFunc) error {
	log.Info("serving on stdio")
	return serve(ctx, Stream(duplex{in: os.Stdin, out: os.Stdout}))
}

// Listen opens a listener for addr. Addresses are host:port for TCP,
// unix://path for unix sockets and npipe://name for Windows named pipes.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return listenUnix(ctx, path)
	}
	if path, ok := strings.CutPrefix(addr, "npipe://"); ok {
		return listenNamedPipe(path)
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}

func listenUnix(ctx context.Context, path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, "unix", path)
}

// Serve accepts connections on l and serves each concurrently until ctx is
// done. It waits for open connections before returning.
func Serve(ctx context.Context, l net.Listener, serve ServeFunc) error {
	log.Infof("listening on %s", l.Addr())
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		log.Infof("accepted connection from %s", conn.RemoteAddr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := serve(ctx, Stream(conn)); err != nil {
				log.Errorf("connection %s: %s", conn.RemoteAddr(), err)
			}
		}()
	}
}

// ListenAndServe is Listen followed by Serve.
func ListenAndServe(ctx context.Context, addr string, serve ServeFunc) error {
	l, err := Listen(ctx, addr)
	if err != nil {
		return err
	}
	return Serve(ctx, l, serve)
}

// Pipes serves a single connection that reads from the unix socket at
// readPath and writes to the one at writePath. Both are created by the
// client.
func Pipes(ctx context.Context, readPath, writePath string, serve ServeFunc) error {
	var d net.Dialer
	in, err := d.DialContext(ctx, "unix", readPath)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", readPath, err)
	}
	out, err := d.DialContext(ctx, "unix", writePath)
	if err != nil {
		in.Close()
		return fmt.Errorf("failed to connect to %s: %w", writePath, err)
	}
	log.Infof("serving on %s and %s", readPath, writePath)
	return serve(ctx, Stream(duplex{in: in, out: out}))
}
