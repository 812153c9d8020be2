// internal/registry/registry.go
package registry

import (
	"log"
	"sync"

	"github.com/statroom/statroom/internal/models"
)

// Conn is one live client connection as seen by the engine: an outbound
// message channel drained by the transport's write pump, plus a cancel func
// that stops the transport goroutines when the registry evicts it.
type Conn struct {
	OutChan chan map[string]interface{}
	Cancel  func()

	closeOnce sync.Once
}

// NewConn returns a Conn with a buffered outbound channel.
func NewConn(cancel func()) *Conn {
	return &Conn{
		OutChan: make(chan map[string]interface{}, 16),
		Cancel:  cancel,
	}
}

// Write pushes a message onto the outbound channel without blocking. A full
// or closed channel drops the message; the client recovers on the next
// snapshot broadcast.
func (c *Conn) Write(msg map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			msgType, _ := msg["type"].(string)
			log.Printf("registry: dropped %q write to closed connection", msgType)
		}
	}()
	select {
	case c.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("registry: outbound channel full, dropped %q", msgType)
	}
}

// WriteError sends a protocol error frame to this connection only.
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

// close shuts the outbound channel and cancels the transport goroutines.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.OutChan)
		if c.Cancel != nil {
			c.Cancel()
		}
	})
}

// Registry tracks which live connection currently represents each userId.
// It is process-local: it is rebuilt by rejoin messages after a restart and
// needs no cross-process coordination, since it only affects local fan-out.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]*Conn
	byConn map[*Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Conn),
		byConn: make(map[*Conn]string),
	}
}

// Attach records conn as the live connection for userID. If the user already
// has a different live connection (a stale tab), that connection is closed:
// at most one live connection per userId.
func (reg *Registry) Attach(conn *Conn, userID string) {
	reg.mu.Lock()
	prev := reg.byUser[userID]
	if prev == conn {
		reg.mu.Unlock()
		return
	}
	if prevUser, ok := reg.byConn[conn]; ok && prevUser != userID {
		delete(reg.byUser, prevUser)
	}
	reg.byUser[userID] = conn
	reg.byConn[conn] = userID
	if prev != nil {
		delete(reg.byConn, prev)
	}
	reg.mu.Unlock()

	if prev != nil {
		prev.close()
	}
}

// Detach removes every mapping referencing conn. Called on disconnect; the
// player itself stays in the room so rejoin can resolve the same identity.
func (reg *Registry) Detach(conn *Conn) {
	reg.mu.Lock()
	userID, ok := reg.byConn[conn]
	if ok {
		delete(reg.byConn, conn)
		if reg.byUser[userID] == conn {
			delete(reg.byUser, userID)
		}
	}
	reg.mu.Unlock()

	conn.close()
}

// Release drops the mapping for a userId without closing the connection.
// Used on a voluntary leave-room: the socket stays open so the client can
// join another room over it.
func (reg *Registry) Release(userID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if conn, ok := reg.byUser[userID]; ok {
		delete(reg.byUser, userID)
		delete(reg.byConn, conn)
	}
}

// Lookup returns the live connection for a userId, if any.
func (reg *Registry) Lookup(userID string) (*Conn, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c, ok := reg.byUser[userID]
	return c, ok
}

// MembersOf returns the live connections of the room's current members.
// Fan-out derives from room membership, not registry state alone, so a
// departed-but-still-connected client is not included.
func (reg *Registry) MembersOf(r *models.Room) []*Conn {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	conns := make([]*Conn, 0, len(r.Players))
	for _, p := range r.Players {
		if c, ok := reg.byUser[p.UserID]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}
