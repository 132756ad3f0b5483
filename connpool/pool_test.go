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

package connpool

import (
	"testing"

	"github.com/sasha00123/bxcommon/connection"
	"github.com/sasha00123/bxcommon/internal/blog"
)

func newTestConn(fileno int, ip string, port int, t connection.Type) *connection.Connection {
	return connection.New(fileno, ip, port, false, t, 7, blog.Root())
}

func TestPoolCoherenceAfterAddAndDelete(t *testing.T) {
	p := New()
	a := newTestConn(1, "10.0.0.1", 1800, connection.TypeRelayAll)
	b := newTestConn(2, "10.0.0.2", 1800, connection.TypeGateway)
	p.Add(a)
	p.Add(b)

	assertCoherent(t, p, a)
	assertCoherent(t, p, b)

	p.Delete(a)
	if _, ok := p.GetByFileno(1); ok {
		t.Fatalf("deleted connection still reachable by fileno")
	}
	if p.HasConnection("10.0.0.1", 1800) {
		t.Fatalf("deleted connection still reachable by ip:port")
	}
	for _, c := range p.GetByConnectionType(connection.TypeRelayAll) {
		if c == a {
			t.Fatalf("deleted connection still reachable by type")
		}
	}
	assertCoherent(t, p, b)
}

func assertCoherent(t *testing.T, p *Pool, c *connection.Connection) {
	t.Helper()
	if _, ok := p.GetByFileno(c.Fileno); !ok {
		t.Fatalf("connection %v not reachable by fileno", c)
	}
	if _, ok := p.GetByIPPort(c.PeerIP, c.PeerPort); !ok {
		t.Fatalf("connection %v not reachable by ip:port", c)
	}
	found := false
	for _, m := range p.GetByConnectionType(c.Type) {
		if m == c {
			found = true
		}
	}
	if !found {
		t.Fatalf("connection %v not reachable by its connection type", c)
	}
}

func TestGetByConnectionTypeUnion(t *testing.T) {
	p := New()
	relay := newTestConn(1, "10.0.0.1", 1800, connection.TypeRelayTransaction)
	gw := newTestConn(2, "10.0.0.2", 1800, connection.TypeGateway)
	p.Add(relay)
	p.Add(gw)

	matches := p.GetByConnectionType(connection.TypeRelayTransaction | connection.TypeGateway)
	if len(matches) != 2 {
		t.Fatalf("expected union of 2 connections, got %d", len(matches))
	}
}

func TestDuplicateIPPortOverwritesIndex(t *testing.T) {
	p := New()
	first := newTestConn(1, "10.0.0.1", 1800, connection.TypeGateway)
	p.Add(first)
	if !p.HasConnection("10.0.0.1", 1800) {
		t.Fatalf("expected connection to be indexed")
	}
	second := newTestConn(2, "10.0.0.1", 1800, connection.TypeGateway)
	p.Add(second)
	if got, ok := p.GetByIPPort("10.0.0.1", 1800); !ok || got != second {
		t.Fatalf("expected ip:port index to point at the second connection, got %v ok=%v", got, ok)
	}
}
