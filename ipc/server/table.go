package server

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// ConnectionTable maps native descriptor numbers to live connections.
// It is safe for concurrent use.
type ConnectionTable struct {
	conns *xsync.MapOf[int, *Connection]
}

// NewConnectionTable creates an empty table
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{
		conns: xsync.NewMapOf[int, *Connection](),
	}
}

// Insert adds conn under its descriptor number. An existing entry is an *IdentityConflictError.
func (t *ConnectionTable) Insert(conn *Connection) error {
	if _, loaded := t.conns.LoadOrStore(conn.ID(), conn); loaded {
		return &IdentityConflictError{Fd: conn.ID()}
	}
	return nil
}

// Lookup returns the connection registered under id
func (t *ConnectionTable) Lookup(id int) (*Connection, bool) {
	return t.conns.Load(id)
}

// Remove deletes and returns the connection registered under id. Removing twice is a no-op.
func (t *ConnectionTable) Remove(id int) (*Connection, bool) {
	return t.conns.LoadAndDelete(id)
}

// Len returns the number of live connections
func (t *ConnectionTable) Len() int {
	return t.conns.Size()
}

// Range calls fn for every connection until fn returns false
func (t *ConnectionTable) Range(fn func(id int, conn *Connection) bool) {
	t.conns.Range(fn)
}
