// Copyright 2024 The bxcommon Authors
// This file is part of bxcommon.
//
// bxcommon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// bxcommon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with bxcommon. If not, see <http://www.gnu.org/licenses/>.

// Package connpool implements the triply-indexed connection set of
// spec.md §4.5: every live connection is reachable by fileno, by (ip,port),
// and by every connection-type bit it carries, and all three indices are
// kept coherent under every mutation (spec.md §8 property 1).
package connpool

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sasha00123/bxcommon/connection"
)

type ipPort struct {
	ip   string
	port int
}

// Pool is the node's single source of truth for live connections.
// It is not safe for concurrent use from multiple goroutines — like every
// other core component, it is owned and mutated only on the event loop
// thread (spec.md §5).
type Pool struct {
	byFileno map[int]*connection.Connection
	byIPPort map[ipPort]*connection.Connection
	byType   map[connection.Type]mapset.Set[*connection.Connection]
}

// New returns an empty connection pool.
func New() *Pool {
	return &Pool{
		byFileno: make(map[int]*connection.Connection),
		byIPPort: make(map[ipPort]*connection.Connection),
		byType:   make(map[connection.Type]mapset.Set[*connection.Connection]),
	}
}

// Add registers conn under all three indices. Callers are responsible for
// the duplicate-(ip,port) check described in spec.md §4.4 before calling Add.
func (p *Pool) Add(conn *connection.Connection) {
	p.byFileno[conn.Fileno] = conn
	p.byIPPort[ipPort{conn.PeerIP, conn.PeerPort}] = conn

	for _, bit := range connection.AllTypeBits() {
		if conn.Type.Has(bit) {
			p.indexByType(bit, conn)
		}
	}
}

func (p *Pool) indexByType(bit connection.Type, conn *connection.Connection) {
	set, ok := p.byType[bit]
	if !ok {
		set = mapset.NewThreadUnsafeSet[*connection.Connection]()
		p.byType[bit] = set
	}
	set.Add(conn)
}

// Delete removes conn from all three indices atomically (there is no
// intermediate state another caller on this goroutine could observe).
func (p *Pool) Delete(conn *connection.Connection) {
	delete(p.byFileno, conn.Fileno)
	delete(p.byIPPort, ipPort{conn.PeerIP, conn.PeerPort})
	for bit, set := range p.byType {
		if conn.Type.Has(bit) {
			set.Remove(conn)
		}
	}
}

// GetByFileno returns the connection registered under fileno, if any.
func (p *Pool) GetByFileno(fileno int) (*connection.Connection, bool) {
	c, ok := p.byFileno[fileno]
	return c, ok
}

// GetByIPPort returns the connection registered at (ip,port), if any.
func (p *Pool) GetByIPPort(ip string, port int) (*connection.Connection, bool) {
	c, ok := p.byIPPort[ipPort{ip, port}]
	return c, ok
}

// HasConnection reports whether a connection exists at (ip,port).
func (p *Pool) HasConnection(ip string, port int) bool {
	_, ok := p.byIPPort[ipPort{ip, port}]
	return ok
}

// GetByConnectionType returns the union of connections whose type
// intersects any bit set in t.
func (p *Pool) GetByConnectionType(t connection.Type) []*connection.Connection {
	union := mapset.NewThreadUnsafeSet[*connection.Connection]()
	for _, bit := range connection.AllTypeBits() {
		if t.Has(bit) {
			if set, ok := p.byType[bit]; ok {
				union = union.Union(set)
			}
		}
	}
	return union.ToSlice()
}

// Len returns the number of distinct live connections.
func (p *Pool) Len() int { return len(p.byFileno) }

// All returns every live connection. Iteration order is unspecified
// (spec.md §4.5).
func (p *Pool) All() []*connection.Connection {
	out := make([]*connection.Connection, 0, len(p.byFileno))
	for _, c := range p.byFileno {
		out = append(out, c)
	}
	return out
}
