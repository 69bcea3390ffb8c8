// Package socket implements the static-socket dispatch table shared by
// the Router and its reactive Services (Section 9: "Services on static
// sockets form a mapping socket_number -> handler").
package socket

import (
	"sync"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Handler processes a datagram addressed to a registered static socket.
// It must not block on external I/O (Section 5): compute a response and
// hand it to outbound dispatch, which never blocks.
type Handler func(dg *ddp.Datagram, ingress rib.PortID, src link.Addr)

// Table maps a static socket number to the Service handler bound to it.
type Table struct {
	mu       sync.RWMutex
	handlers map[ddp.Socket]Handler
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[ddp.Socket]Handler)}
}

// Register binds h to socket. A later Register for the same socket
// replaces the previous handler.
func (t *Table) Register(socket ddp.Socket, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[socket] = h
}

// Dispatch delivers dg to the handler bound to dg's destination socket,
// reporting whether one was registered.
func (t *Table) Dispatch(dg *ddp.Datagram, ingress rib.PortID, src link.Addr) bool {
	t.mu.RLock()
	h, ok := t.handlers[dg.DestSocket]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	h(dg, ingress, src)
	return true
}
