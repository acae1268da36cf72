package host

import (
	"errors"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("idea-lsp.host")

// Context is the process-wide host state shared by every connection: the
// project loader and the registered integrations. It replaces any ambient
// global and is passed explicitly into workspaces.
type Context struct {
	host         Host
	integrations []Integration

	mu     sync.Mutex
	closed bool
}

func NewContext(h Host, integrations ...Integration) *Context {
	return &Context{host: h, integrations: integrations}
}

func (c *Context) Host() Host { return c.host }

// Integrations returns the registered external-system integrations.
func (c *Context) Integrations() []Integration {
	return append([]Integration(nil), c.integrations...)
}

// Close tears down the host. Later calls are no-ops.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	log.Info("closing host")
	return c.host.Close()
}

// Lazy creates a Context on first use.
type Lazy struct {
	once sync.Once
	ctx  *Context
	err  error
	init func() (*Context, error)
}

func NewLazy(init func() (*Context, error)) *Lazy {
	return &Lazy{init: init}
}

// Get returns the Context, creating it on the first call.
func (l *Lazy) Get() (*Context, error) {
	l.once.Do(func() {
		l.ctx, l.err = l.init()
		if l.err == nil {
			log.Info("host initialized")
		}
	})
	return l.ctx, l.err
}

// Close closes the Context if it was ever created.
func (l *Lazy) Close() error {
	// Closing first keeps a late Get from initializing a dead host.
	l.once.Do(func() { l.err = errors.New("host never initialized") })
	if l.ctx == nil {
		return nil
	}
	return l.ctx.Close()
}
