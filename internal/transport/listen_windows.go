package transport

import (
	"net"

	winio "github.com/Microsoft/go-winio"
)

func listenNamedPipe(name string) (net.Listener, error) {
	if len(name) > 0 && name[0] != '\\' {
		name = `\\.\pipe\` + name
	}
	return winio.ListenPipe(name, &winio.PipeConfig{MessageMode: false})
}
