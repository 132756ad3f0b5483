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

package node

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sasha00123/bxcommon/alarm"
	"github.com/sasha00123/bxcommon/connection"
	"github.com/sasha00123/bxcommon/internal/blog"
	"github.com/sasha00123/bxcommon/sdn"
	"github.com/sasha00123/bxcommon/stats"
	"github.com/sasha00123/bxcommon/txservice"
)

type fakeCaps struct {
	built            map[int]*connection.Connection
	sendRelayRequests int
}

func newFakeCaps() *fakeCaps {
	return &fakeCaps{built: make(map[int]*connection.Connection)}
}

func (f *fakeCaps) GetTxService(networkNum int32) *txservice.Service { return nil }
func (f *fakeCaps) GetOutboundPeerAddresses() []OutboundPeer          { return nil }
func (f *fakeCaps) BuildConnection(fileno int, ip string, port int, fromMe bool) *connection.Connection {
	if c, ok := f.built[fileno]; ok {
		return c
	}
	c := connection.New(fileno, ip, port, fromMe, connection.TypeRelayAll, 7, blog.Root())
	f.built[fileno] = c
	return c
}
func (f *fakeCaps) SendRequestForRelayPeers() { f.sendRelayRequests++ }

type fakeSdnClient struct {
	sdn.Client
	events []sdn.NodeEventModel
}

func (f *fakeSdnClient) SubmitNodeEvent(ctx context.Context, event sdn.NodeEventModel) error {
	f.events = append(f.events, event)
	return nil
}

func newTestRuntime() (*Runtime, *fakeCaps, *fakeSdnClient) {
	caps := newFakeCaps()
	sdnClient := &fakeSdnClient{}
	rt := New(Options{NodeID: "node-1", NetworkNum: 7}, caps, sdnClient, stats.NoopSink{}, alarm.New(), blog.Root())
	return rt, caps, sdnClient
}

// TestDuplicateConnectScenario implements spec.md §8 S1.
func TestDuplicateConnectScenario(t *testing.T) {
	rt, _, _ := newFakeCapsRuntime()
	rt.OnConnectionAdded(SocketConnection{Fileno: 5}, "1.2.3.4", 9000, true)

	rt.OnConnectionAdded(SocketConnection{Fileno: 7}, "1.2.3.4", 9000, true)

	if _, ok := rt.pool.GetByFileno(7); ok {
		t.Fatalf("the duplicate connection must not be added to the pool")
	}
	fileno, ok := rt.PopNextDisconnectConnection()
	if !ok || fileno != 7 {
		t.Fatalf("expected fileno 7 enqueued for disconnect, got %d ok=%v", fileno, ok)
	}
	if _, ok := rt.pool.GetByFileno(5); !ok {
		t.Fatalf("the original connection must remain pooled")
	}
}

func newFakeCapsRuntime() (*Runtime, *fakeCaps, *fakeSdnClient) {
	return newTestRuntime()
}

// TestConnectTimeoutRetriesWithBackoff implements spec.md §8 S2.
func TestConnectTimeoutRetriesWithBackoff(t *testing.T) {
	rt, caps, _ := newTestRuntime()
	rt.outboundPeers = append(rt.outboundPeers, OutboundPeer{IP: "1.2.3.4", Port: 9000})
	rt.OnConnectionAdded(SocketConnection{Fileno: 10}, "1.2.3.4", 9000, true)
	conn := caps.built[10]

	start := time.Now()
	rt.destroyConnection(conn, true)

	if _, ok := rt.pool.GetByFileno(10); ok {
		t.Fatalf("pool must no longer contain fileno 10 after timeout destroy")
	}

	rt.alarms.FireReadyAlarms(start.Add(900 * time.Millisecond))
	if _, _, ok := rt.PopNextConnectionAddress(); ok {
		t.Fatalf("expected no retry before the first 1s backoff elapses")
	}
	rt.alarms.FireReadyAlarms(start.Add(1100 * time.Millisecond))
	if ip, port, ok := rt.PopNextConnectionAddress(); !ok || ip != "1.2.3.4" || port != 9000 {
		t.Fatalf("expected a retry connect to 1.2.3.4:9000 after ~1s, got %s:%d ok=%v", ip, port, ok)
	}
}

// TestBroadcastExclusion implements spec.md §8 S3.
func TestBroadcastExclusion(t *testing.T) {
	rt, caps, _ := newTestRuntime()
	rt.OnConnectionAdded(SocketConnection{Fileno: 1}, "10.0.0.1", 1800, true)
	rt.OnConnectionAdded(SocketConnection{Fileno: 2}, "10.0.0.2", 1800, true)
	rt.OnConnectionAdded(SocketConnection{Fileno: 3}, "10.0.0.3", 1800, true)

	a := caps.built[1]
	b := caps.built[2]
	c := caps.built[3]
	a.SetState(connection.StateInitialized)
	a.SetState(connection.StateEstablished)
	b.SetState(connection.StateInitialized)
	b.SetState(connection.StateEstablished)
	c.SetState(connection.StateInitialized)
	c.SetState(connection.StateEstablished)

	msg := testMessage{raw: []byte("hello")}
	networkNum := int32(7)
	recipients := rt.Broadcast(msg, b, false, &networkNum, connection.TypeRelayAll, false)

	if len(recipients) != 2 {
		t.Fatalf("expected exactly 2 recipients, got %d", len(recipients))
	}
	for _, r := range recipients {
		if r == b {
			t.Fatalf("sender must not receive its own broadcast")
		}
	}
	if a.Output.Length() == 0 {
		t.Fatalf("expected A's output buffer to receive the message")
	}
	if c.Output.Length() == 0 {
		t.Fatalf("expected C's output buffer to receive the message")
	}
	if b.Output.Length() != 0 {
		t.Fatalf("expected B's output buffer to remain unchanged")
	}
}

type testMessage struct{ raw []byte }

func (m testMessage) LogLevel() slog.Level { return slog.LevelInfo }
func (m testMessage) RawBytes() []byte     { return m.raw }

func TestHandleSignalSetsForceExitAndTerminationError(t *testing.T) {
	rt, _, _ := newTestRuntime()
	if rt.ForceExit() {
		t.Fatalf("ForceExit must be false before any signal")
	}

	rt.HandleSignal("SIGTERM")

	if !rt.ForceExit() {
		t.Fatalf("expected ForceExit to be true after HandleSignal")
	}
	if rt.Err() == nil {
		t.Fatalf("expected a recorded TerminationError")
	}
}

func TestRetryExhaustionEmitsPeerConnErrorOnce(t *testing.T) {
	rt, caps, sdnClient := newTestRuntime()
	ip, port := "5.6.7.8", 1234

	for i := 0; i < 8; i++ {
		rt.retryInitClientSocket(ip, port, connection.TypeRelayAll)
	}

	if _, _, ok := rt.PopNextConnectionAddress(); !ok {
		t.Fatalf("expected at least one connect to have been enqueued before exhaustion")
	}
	if len(sdnClient.events) != 1 {
		t.Fatalf("expected exactly one PEER_CONN_ERR event once retries are exhausted, got %d", len(sdnClient.events))
	}
	if caps.sendRelayRequests == 0 {
		t.Fatalf("expected SendRequestForRelayPeers to be invoked on exhaustion")
	}
}
