package transport_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsrpc "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadfisher/idea-lsp/internal/transport"
)

// echo answers every request with its own params.
func echo(ctx context.Context, stream jsonrpc2.ObjectStream) error {
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(
		func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
			return req.Params, nil
		}))
	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		conn.Close()
	}
	return nil
}

func roundTrip(t *testing.T, stream jsonrpc2.ObjectStream, value string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(
		func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) { return nil, nil }))
	defer conn.Close()

	var got string
	require.NoError(t, conn.Call(ctx, "echo", value, &got))
	assert.Equal(t, value, got)
}

func serveInBackground(t *testing.T, run func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("transport did not stop")
		}
	})
}

func TestTCPServesConcurrentConnections(t *testing.T) {
	l, err := transport.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	serveInBackground(t, func(ctx context.Context) error { return transport.Serve(ctx, l, echo) })

	first, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	second, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	roundTrip(t, transport.Stream(second), "second")
	roundTrip(t, transport.Stream(first), "first")
}

func TestUnixSocketReplacesStaleFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets")
	}
	path := filepath.Join(t.TempDir(), "sock", "lsp.sock")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	l, err := transport.Listen(context.Background(), "unix://"+path)
	require.NoError(t, err)
	serveInBackground(t, func(ctx context.Context) error { return transport.Serve(ctx, l, echo) })

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	roundTrip(t, transport.Stream(conn), "unix")
}

func TestPipes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets")
	}
	dir := t.TempDir()
	toServer, err := net.Listen("unix", filepath.Join(dir, "in.sock"))
	require.NoError(t, err)
	defer toServer.Close()
	fromServer, err := net.Listen("unix", filepath.Join(dir, "out.sock"))
	require.NoError(t, err)
	defer fromServer.Close()

	serveInBackground(t, func(ctx context.Context) error {
		return transport.Pipes(ctx, filepath.Join(dir, "in.sock"), filepath.Join(dir, "out.sock"), echo)
	})

	in, err := toServer.Accept()
	require.NoError(t, err)
	out, err := fromServer.Accept()
	require.NoError(t, err)
	roundTrip(t, transport.Stream(pipePair{Conn: out, w: in}), "pipes")
}

// pipePair reads the server's output and writes to its input.
type pipePair struct {
	net.Conn
	w net.Conn
}

func (p pipePair) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p pipePair) Close() error {
	p.w.Close()
	return p.Conn.Close()
}

func TestNamedPipeUnsupported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("named pipes are supported")
	}
	_, err := transport.Listen(context.Background(), "npipe://idea-lsp")
	assert.ErrorContains(t, err, "not supported")
}

func TestWebSocket(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveInBackground(t, func(ctx context.Context) error { return transport.WebSocket(ctx, l, echo) })

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr().String()+transport.WebSocketPath, nil)
	require.NoError(t, err)
	roundTrip(t, wsrpc.NewObjectStream(conn), "websocket")
}
