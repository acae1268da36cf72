package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	wsrpc "github.com/sourcegraph/jsonrpc2/websocket"
)

// WebSocketPath is where clients connect.
const WebSocketPath = "/lsp"

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// WebSocket serves every WebSocket connection made to l until ctx is done.
// Each message carries one JSON-RPC object.
func WebSocket(ctx context.Context, l net.Listener, serve ServeFunc) error {
	var wg sync.WaitGroup
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warningf("websocket upgrade: %s", err)
			return
		}
		wg.Add(1)
		defer wg.Done()
		log.Infof("accepted websocket connection from %s", r.RemoteAddr)
		if err := serve(ctx, wsrpc.NewObjectStream(conn)); err != nil {
			log.Errorf("websocket %s: %s", r.RemoteAddr, err)
		}
	})

	srv := &http.Server{Handler: mux}
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	log.Infof("listening for websockets on ws://%s%s", l.Addr(), WebSocketPath)
	err := srv.Serve(l)
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
