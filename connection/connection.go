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

package connection

import (
	"fmt"
	"sync/atomic"

	"github.com/sasha00123/bxcommon/alarm"
	"github.com/sasha00123/bxcommon/config"
	"github.com/sasha00123/bxcommon/internal/blog"
	"github.com/sasha00123/bxcommon/ioutil"
	"github.com/sasha00123/bxcommon/wire"
)

// Connection identifies a single peer link, per spec.md §3. It is created
// when the event loop accepts or completes a connect, and destroyed only
// after being removed from the pool, marked for close, and its fileno
// enqueued for disconnect.
type Connection struct {
	Fileno     int
	PeerIP     string
	PeerPort   int
	FromMe     bool
	Type       Type
	NetworkNum int32

	Input  *ioutil.InputBuffer
	Output *ioutil.OutputBuffer
	Tracker *ioutil.MessageTracker

	Log blog.Logger

	state             atomic.Uint32
	timeoutHandle     alarm.Handle
	pingHandle        alarm.Handle
}

// New builds a Connection in the initial CONNECTING state, with fresh I/O
// buffers and a message tracker.
func New(fileno int, ip string, port int, fromMe bool, connType Type, networkNum int32, log blog.Logger) *Connection {
	c := &Connection{
		Fileno:     fileno,
		PeerIP:     ip,
		PeerPort:   port,
		FromMe:     fromMe,
		Type:       connType,
		NetworkNum: networkNum,
		Input:      ioutil.NewInputBuffer(),
		Output:     ioutil.NewOutputBuffer(),
		Log:        log.With("fileno", fileno, "peer", fmt.Sprintf("%s:%d", ip, port), "type", connType.String()),
	}
	c.Tracker = ioutil.NewMessageTracker(c.Log)
	c.state.Store(uint32(StateConnecting))
	return c
}

// State returns the connection's current lifecycle bitmask.
func (c *Connection) State() State { return State(c.state.Load()) }

// SetState ORs the given bits into the connection's state. MARK_FOR_CLOSE is
// terminal: once set, no further bits may be added (spec.md §3 legal
// transitions).
func (c *Connection) SetState(bits State) {
	for {
		cur := State(c.state.Load())
		if cur.Has(StateMarkForClose) {
			return
		}
		next := cur | bits
		if c.state.CompareAndSwap(uint32(cur), uint32(next)) {
			return
		}
	}
}

// MarkForClose sets the terminal MARK_FOR_CLOSE bit. After this, all further
// reads and writes on the connection must be no-ops (spec.md §4.3).
func (c *Connection) MarkForClose() {
	for {
		cur := State(c.state.Load())
		next := cur | StateMarkForClose
		if c.state.CompareAndSwap(uint32(cur), uint32(next)) {
			return
		}
	}
}

// IsActive reports whether the connection may still be read from or written
// to: not marked for close.
func (c *Connection) IsActive() bool { return !c.State().Has(StateMarkForClose) }

// EnqueueMessage appends msg's bytes to the output buffer (or, if prepend is
// set, places them ahead of every message not yet started, after a
// partially-sent head), and records it in the message tracker.
func (c *Connection) EnqueueMessage(msg wire.Message, prepend bool) {
	raw := msg.RawBytes()
	if prepend {
		c.Output.PrependMsg(raw)
		c.Tracker.PrependMessage(len(raw), msg)
		return
	}
	c.Output.EnqueueMsgBytes(raw)
	c.Tracker.AppendMessage(len(raw), msg)
}

// AdvanceSentBytes reports n freshly-sent bytes to both the output buffer and
// the message tracker, keeping them in lockstep.
func (c *Connection) AdvanceSentBytes(n int) {
	c.Output.AdvanceBuffer(n)
	c.Tracker.AdvanceBytes(n)
}

// SetTimeoutHandle / TimeoutHandle let the owning node track the
// CONNECTION_TIMEOUT alarm registered for this connection so it can be
// recognized and canceled from within the same alarm's own callback.
func (c *Connection) SetTimeoutHandle(h alarm.Handle) { c.timeoutHandle = h }
func (c *Connection) TimeoutHandle() alarm.Handle     { return c.timeoutHandle }

func (c *Connection) SetPingHandle(h alarm.Handle) { c.pingHandle = h }
func (c *Connection) PingHandle() alarm.Handle     { return c.pingHandle }

// MatchesNetwork reports whether this connection should receive a broadcast
// targeting broadcastNetNum. A connection carrying the wildcard network
// matches everything unless requireExactNetworkMatch (spec.md §4.4's
// exclude_relays, renamed per the §9 Open Question) disables the wildcard.
func (c *Connection) MatchesNetwork(broadcastNetNum int32, requireExactNetworkMatch bool) bool {
	if !requireExactNetworkMatch && c.NetworkNum == config.AllNetworkNum {
		return true
	}
	return c.NetworkNum == broadcastNetNum
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection[%s:%d fileno=%d type=%s state=%s]", c.PeerIP, c.PeerPort, c.Fileno, c.Type, c.State())
}
