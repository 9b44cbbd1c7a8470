package fortune

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
)

// FortuneHandler serves fortune requests on every connection a Server
// accepts. All connections share one Store.
type FortuneHandler struct {
	store  *Store
	opts   []Option
	logger Logger

	sync.RWMutex
	connections map[uuid.UUID]*Conn
}

// NewFortuneHandler returns a handler serving store. opts are applied to
// every connection; StoreOption is set by the handler itself.
func NewFortuneHandler(store *Store, opts ...Option) *FortuneHandler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}

	return &FortuneHandler{
		store:       store,
		opts:        append(append([]Option(nil), opts...), StoreOption(store)),
		logger:      o.logger,
		connections: make(map[uuid.UUID]*Conn),
	}
}

// Handle serves one connection until its exchange completes or ctx is canceled.
func (h *FortuneHandler) Handle(ctx context.Context, conn *net.TCPConn) {
	c, err := NewConn(conn, h.opts...)
	if err != nil {
		h.logger.Error("failed to create connection", "addr", conn.RemoteAddr(), "error", err.Error())
		_ = conn.Close()
		return
	}

	h.addConn(c)
	defer h.deleteConn(c.ID())

	_ = c.Run(ctx)
}

// Store returns the store served by the handler.
func (h *FortuneHandler) Store() *Store {
	return h.store
}

// Active returns the number of connections currently being served.
func (h *FortuneHandler) Active() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.connections)
}

// CloseAll closes every connection currently being served.
func (h *FortuneHandler) CloseAll() {
	h.RLock()
	defer h.RUnlock()

	for _, c := range h.connections {
		_ = c.Close()
	}
}

func (h *FortuneHandler) addConn(c *Conn) {
	h.Lock()
	defer h.Unlock()

	h.logger.Debug("add new conn", "conn_id", c.ID(), "addr", c.Addr())
	h.connections[c.ID()] = c
}

func (h *FortuneHandler) deleteConn(id uuid.UUID) {
	h.Lock()
	defer h.Unlock()

	delete(h.connections, id)
}
