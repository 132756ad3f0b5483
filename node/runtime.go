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

// Package node implements the event-loop-facing runtime of spec.md §4.4: the
// connect/disconnect queues, the broadcast fan-out, the retry policy, and
// the glue between the connection pool, alarm queue, transaction service,
// and feed layer. It is grounded directly on abstract_node.py, generalized
// from one Python God-object with module-level singleton stats/SDN access
// into a Runtime holding explicit SdnClient and StatsSink capabilities
// (spec.md §9).
package node

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sasha00123/bxcommon/alarm"
	"github.com/sasha00123/bxcommon/config"
	"github.com/sasha00123/bxcommon/connection"
	"github.com/sasha00123/bxcommon/connpool"
	"github.com/sasha00123/bxcommon/internal/blog"
	"github.com/sasha00123/bxcommon/sdn"
	"github.com/sasha00123/bxcommon/stats"
	"github.com/sasha00123/bxcommon/wire"
)

// TerminationError is raised (returned up the call stack) when a shutdown
// signal is received, matching spec.md §4.4/§7's TerminationError that
// unwinds the event loop. Go has no exception unwinding, so HandleSignal
// records it and the loop driver checks ForceExit()/Err() each iteration.
type TerminationError struct {
	Reason string
}

func (e *TerminationError) Error() string { return "node killed: " + e.Reason }

type ipPort struct {
	ip   string
	port int
}

// Options configures a Runtime at construction.
type Options struct {
	NodeID               string
	OutboundPeers        []OutboundPeer
	NetworkNum           int32
	MaxRetryTrackedPeers int // capacity of the retry-count LRU; 0 uses a sane default
}

// Runtime is the node-kind-agnostic event-loop core described by spec.md
// §4.4. It is not safe for concurrent use: every method must be called from
// the single event-loop thread (spec.md §5).
type Runtime struct {
	opts Options
	caps Capabilities
	sdn  sdn.Client
	stat stats.Sink
	log  blog.Logger

	pool   *connpool.Pool
	alarms *alarm.Queue

	connectionQueue   []ipPort
	disconnectQueue   []int
	outboundPeers     []OutboundPeer

	schedulePingsOnTimeout bool
	shouldForceExit        bool
	terminationErr         error

	numRetriesByIP *lru.Cache[ipPort, int]

	// FlushHook, if set, is invoked by the periodic buffer-flush alarm with
	// the current set of pooled connections: the event loop's socket layer
	// wires itself in here rather than the runtime depending on a concrete
	// socket API (spec.md §1 treats the socket layer as an external
	// collaborator).
	FlushHook func(conns []*connection.Connection)

	// PingHook, if set, is invoked every PING_INTERVAL_S, starting once a
	// connection is ESTABLISHED when its connection timeout alarm fires, for as
	// long as the connection is not marked for close; sending the actual
	// application-level ping is the protocol layer's job (spec.md §1).
	PingHook func(conn *connection.Connection)

	mu sync.Mutex // guards terminationErr/shouldForceExit, set from HandleSignal which may run on a signal-notify goroutine
}

// New constructs a Runtime. alarms is typically a fresh *alarm.Queue shared
// with the node's transaction service and feeds.
func New(opts Options, caps Capabilities, sdnClient sdn.Client, statSink stats.Sink, alarms *alarm.Queue, log blog.Logger) *Runtime {
	capacity := opts.MaxRetryTrackedPeers
	if capacity <= 0 {
		capacity = 4096
	}
	retryCache, err := lru.New[ipPort, int](capacity)
	if err != nil {
		panic(err) // capacity is always positive here; New only errors on size <= 0
	}

	r := &Runtime{
		opts:           opts,
		caps:           caps,
		sdn:            sdnClient,
		stat:           statSink,
		log:            log.With("component", "node"),
		pool:           connpool.New(),
		alarms:         alarms,
		outboundPeers:  append([]OutboundPeer(nil), opts.OutboundPeers...),
		numRetriesByIP: retryCache,
	}

	r.alarms.RegisterApproxAlarm(
		config.FlushSendBuffersInterval,
		config.OutputBufferBatchMaxHoldTime,
		r.flushAllSendBuffersAlarm,
	)

	return r
}

// SetSchedulePingsOnTimeout controls whether a connection's timeout alarm
// schedules periodic pings (every PING_INTERVAL_S while the connection is
// active) once the connection is ESTABLISHED. Relay-style
// nodes that keep-alive their peers enable this; nodes that rely on the
// blockchain client's own keep-alive do not.
func (r *Runtime) SetSchedulePingsOnTimeout(enabled bool) {
	r.schedulePingsOnTimeout = enabled
}

// ConnectionExists reports whether a connection is already pooled at
// (ip,port).
func (r *Runtime) ConnectionExists(ip string, port int) bool {
	return r.pool.HasConnection(ip, port)
}

// OnConnectionAdded implements on_connection_added: duplicate (ip,port)
// connections are rejected by scheduling the new fileno for disconnect
// (spec.md §4.4, S1).
func (r *Runtime) OnConnectionAdded(sock SocketConnection, ip string, port int, fromMe bool) {
	if r.ConnectionExists(ip, port) {
		r.log.Warn("duplicate connection attempted", "ip", ip, "port", port, "fileno", sock.Fileno)
		r.EnqueueDisconnect(sock.Fileno)
		return
	}
	r.initializeConnection(sock, ip, port, fromMe)
}

func (r *Runtime) initializeConnection(sock SocketConnection, ip string, port int, fromMe bool) {
	conn := r.caps.BuildConnection(sock.Fileno, ip, port, fromMe)
	if conn == nil {
		r.EnqueueDisconnect(sock.Fileno)
		return
	}

	r.log.Info("adding connection", "conn", conn.String())
	r.alarms.RegisterAlarm(config.ConnectionTimeout, r.connectionTimeoutAlarm(conn))
	r.pool.Add(conn)
	r.stat.RecordConnectionEstablished(conn.Type.String())
	r.stat.SetConnectionPoolSize(r.pool.Len())
}

// OnConnectionInitialized implements on_connection_initialized.
func (r *Runtime) OnConnectionInitialized(fileno int) {
	conn, ok := r.pool.GetByFileno(fileno)
	if !ok {
		r.log.Warn("initialized connection not in pool", "fileno", fileno)
		return
	}
	r.log.Info("connection state initialized", "conn", conn.String())
	conn.SetState(connection.StateInitialized)
}

// OnConnectionClosed implements on_connection_closed: retries only
// connections this node initiated (from_me).
func (r *Runtime) OnConnectionClosed(fileno int) {
	conn, ok := r.pool.GetByFileno(fileno)
	if !ok {
		r.log.Warn("connection not in pool", "fileno", fileno)
		return
	}
	r.log.Info("destroying connection", "conn", conn.String())
	r.destroyConnection(conn, conn.FromMe)
}

// OnBytesReceived implements on_bytes_received: a no-op for connections
// already marked for close.
func (r *Runtime) OnBytesReceived(fileno int, data []byte) {
	conn, ok := r.pool.GetByFileno(fileno)
	if !ok {
		r.log.Warn("received bytes for connection not in pool", "fileno", fileno)
		return
	}
	if conn.State().Has(connection.StateMarkForClose) {
		return
	}
	conn.Input.AddBytes(data)
	if conn.State().Has(connection.StateMarkForClose) {
		r.destroyConnection(conn, false)
	}
}

// OnFinishedReceiving implements on_finished_receiving: message parsing and
// dispatch is owned by the connection/protocol layer (out of scope, spec.md
// §1); this hook exists for the event loop to notify that a read cycle
// completed, giving the caller a chance to drive that dispatch.
func (r *Runtime) OnFinishedReceiving(fileno int, process func(conn *connection.Connection)) {
	conn, ok := r.pool.GetByFileno(fileno)
	if !ok {
		r.log.Warn("finished receiving for connection not in pool", "fileno", fileno)
		return
	}
	if conn.State().Has(connection.StateMarkForClose) {
		return
	}
	if process != nil {
		process(conn)
	}
}

// GetBytesToSend implements get_bytes_to_send.
func (r *Runtime) GetBytesToSend(fileno int) ([]byte, error) {
	conn, ok := r.pool.GetByFileno(fileno)
	if !ok {
		r.log.Warn("request to get bytes for connection not in pool", "fileno", fileno)
		return nil, nil
	}
	if conn.State().Has(connection.StateMarkForClose) {
		return nil, nil
	}
	return conn.Output.GetBuffer()
}

// OnBytesSent implements on_bytes_sent.
func (r *Runtime) OnBytesSent(fileno int, n int) {
	conn, ok := r.pool.GetByFileno(fileno)
	if !ok {
		r.log.Warn("bytes sent call for connection not in pool", "fileno", fileno)
		return
	}
	conn.AdvanceSentBytes(n)
}

// GetSleepTimeout implements get_sleep_timeout.
func (r *Runtime) GetSleepTimeout(triggeredByTimeout bool, firstCall bool) time.Duration {
	if firstCall {
		hasAlarm, timeout := r.alarms.TimeToNextAlarm()
		if !hasAlarm || timeout < 0 {
			return alarm.DefaultSleepTimeout
		}
		return timeout
	}

	timeToNext := r.alarms.FireReadyAlarms(time.Now())
	if len(r.connectionQueue) > 0 || len(r.disconnectQueue) > 0 {
		timeToNext = alarm.DefaultSleepTimeout
	}
	return timeToNext
}

// ForceExit implements force_exit.
func (r *Runtime) ForceExit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shouldForceExit
}

// Err returns the termination error recorded by HandleSignal, if any.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminationErr
}

// Close implements close: destroys every pooled connection.
func (r *Runtime) Close() {
	r.log.Error("node is closing, closing everything")
	for _, conn := range r.pool.All() {
		r.destroyConnection(conn, false)
	}
}

// HandleSignal implements the SIGTERM/SIGINT/SIGSEGV handler: it records a
// TerminationError and flips ForceExit so the loop driver unwinds on its
// next check. Safe to call from the goroutine that receives os/signal
// notifications, since it only ever sets flags under r.mu and never touches
// core state directly (spec.md §5's thread-safe-queue pattern, applied to a
// single flag instead of a channel since there is no payload to carry). Logs
// at Error, not Crit: Crit terminates the process immediately, which would
// make the ForceExit/TerminationError unwind this method exists to drive
// unreachable.
func (r *Runtime) HandleSignal(sig string) {
	r.log.Error("node has been signaled to terminate", "signal", sig)
	r.mu.Lock()
	r.shouldForceExit = true
	if r.terminationErr == nil {
		r.terminationErr = &TerminationError{Reason: "received " + sig}
	}
	r.mu.Unlock()
}

// Broadcast implements broadcast: fan out msg to every active, non-sender
// connection whose type intersects connTypes and whose network matches.
// networkNum is optional (nil means "use this node's own network_num", per
// the source's network_num=None default); requireExactNetworkMatch is the
// spec.md §9-renamed exclude_relays flag.
func (r *Runtime) Broadcast(msg wire.Message, sender *connection.Connection, prepend bool, networkNum *int32, connTypes connection.Type, requireExactNetworkMatch bool) []*connection.Connection {
	broadcastNetNum := r.opts.NetworkNum
	if networkNum != nil {
		broadcastNetNum = *networkNum
	}

	r.log.Info("broadcasting message", "conn_types", connTypes.String())

	candidates := r.pool.GetByConnectionType(connTypes)
	var recipients []*connection.Connection
	for _, conn := range candidates {
		if conn == sender || !conn.IsActive() {
			continue
		}
		if !conn.MatchesNetwork(broadcastNetNum, requireExactNetworkMatch) {
			continue
		}
		conn.EnqueueMessage(msg, prepend)
		recipients = append(recipients, conn)
	}
	return recipients
}

// EnqueueConnection implements enqueue_connection.
func (r *Runtime) EnqueueConnection(ip string, port int) {
	r.log.Debug("enqueuing connection", "ip", ip, "port", port)
	r.connectionQueue = append(r.connectionQueue, ipPort{ip, port})
}

// EnqueueDisconnect implements enqueue_disconnect.
func (r *Runtime) EnqueueDisconnect(fileno int) {
	r.log.Debug("enqueuing disconnect", "fileno", fileno)
	r.disconnectQueue = append(r.disconnectQueue, fileno)
}

// PopNextConnectionAddress implements pop_next_connection_address.
func (r *Runtime) PopNextConnectionAddress() (ip string, port int, ok bool) {
	if len(r.connectionQueue) == 0 {
		return "", 0, false
	}
	next := r.connectionQueue[0]
	r.connectionQueue = r.connectionQueue[1:]
	return next.ip, next.port, true
}

// PopNextDisconnectConnection implements pop_next_disconnect_connection.
func (r *Runtime) PopNextDisconnectConnection() (fileno int, ok bool) {
	if len(r.disconnectQueue) == 0 {
		return 0, false
	}
	next := r.disconnectQueue[0]
	r.disconnectQueue = r.disconnectQueue[1:]
	return next, true
}

// OnUpdatedPeers implements on_updated_peers: reconciles the outbound peer
// list against a fresh SDN response, tearing down peers no longer wanted and
// enqueuing connects for newly-listed ones.
func (r *Runtime) OnUpdatedPeers(updated []OutboundPeer) {
	if len(updated) == 0 {
		r.log.Warn("got peer update with no peers")
		return
	}

	fixed := r.caps.GetOutboundPeerAddresses()
	isFixed := func(p OutboundPeer) bool {
		for _, f := range fixed {
			if f.IP == p.IP && f.Port == p.Port {
				return true
			}
		}
		return false
	}
	isInUpdated := func(p OutboundPeer) bool {
		for _, u := range updated {
			if u.IP == p.IP && u.Port == p.Port {
				return true
			}
		}
		return false
	}

	for _, old := range r.outboundPeers {
		if isFixed(old) || isInUpdated(old) {
			continue
		}
		if conn, ok := r.pool.GetByIPPort(old.IP, old.Port); ok {
			r.destroyConnection(conn, false)
		}
	}

	for _, peer := range updated {
		if !r.pool.HasConnection(peer.IP, peer.Port) {
			r.EnqueueConnection(peer.IP, peer.Port)
		}
	}
	r.outboundPeers = updated
}

// destroyConnection implements destroy_conn: removes conn from the pool,
// marks it for close, optionally schedules a retry, and enqueues its fileno
// for disconnect.
func (r *Runtime) destroyConnection(conn *connection.Connection, retry bool) {
	r.log.Info("breaking connection", "conn", conn.String(), "retry", retry)

	r.pool.Delete(conn)
	conn.MarkForClose()
	r.stat.RecordConnectionClosed(conn.Type.String())
	r.stat.SetConnectionPoolSize(r.pool.Len())

	if retry {
		if r.isOutboundPeer(conn.PeerIP, conn.PeerPort) ||
			conn.Type.Has(connection.TypeBlockchainNode) ||
			conn.Type.Has(connection.TypeRemoteBlockchainNode) ||
			conn.Type.Has(connection.TypeSDN) {
			ip, port, connType := conn.PeerIP, conn.PeerPort, conn.Type
			priorAttempts, _ := r.numRetriesByIP.Get(ipPort{ip, port})
			r.alarms.RegisterAlarm(config.RetryBackoff(priorAttempts+1), func(now time.Time) alarm.Outcome {
				r.retryInitClientSocket(ip, port, connType)
				return alarm.Cancel()
			})
		}
	} else {
		r.onFailedConnectionRetry(conn.PeerIP, conn.PeerPort, conn.Type)
	}

	r.EnqueueDisconnect(conn.Fileno)
}

func (r *Runtime) isOutboundPeer(ip string, port int) bool {
	for _, peer := range r.outboundPeers {
		if peer.IP == ip && peer.Port == port {
			return true
		}
	}
	return false
}

// shouldRetryConnection implements should_retry_connection: SDN connections
// retry forever; everything else caps at MAX_CONNECT_RETRIES per (ip,port).
func (r *Runtime) shouldRetryConnection(ip string, port int, connType connection.Type) bool {
	if connType.Has(connection.TypeSDN) {
		return true
	}
	count, _ := r.numRetriesByIP.Get(ipPort{ip, port})
	return count < config.MaxConnectRetries
}

func (r *Runtime) onFailedConnectionRetry(ip string, port int, connType connection.Type) {
	if connType.Intersects(connection.TypeRelayAll) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.sdn.SubmitNodeEvent(ctx, sdn.NodeEventModel{
			NodeID:    r.opts.NodeID,
			EventType: sdn.NodeEventPeerConnError,
			PeerIP:    ip,
			PeerPort:  port,
		}); err != nil {
			r.log.Warn("failed to submit peer connection error event", "err", err)
		}
		r.caps.SendRequestForRelayPeers()
	}
}

// connectionTimeoutAlarm returns the _connection_timeout callback bound to
// conn.
func (r *Runtime) connectionTimeoutAlarm(conn *connection.Connection) alarm.Callback {
	return func(now time.Time) alarm.Outcome {
		r.log.Debug("checking connection status", "conn", conn.String())

		if conn.State().Has(connection.StateEstablished) {
			if r.schedulePingsOnTimeout {
				r.alarms.RegisterAlarm(config.PingIntervalS, func(time.Time) alarm.Outcome {
					if !conn.IsActive() {
						return alarm.Cancel()
					}
					if r.PingHook != nil {
						r.PingHook(conn)
					}
					return alarm.Reschedule(config.PingIntervalS)
				})
			}
			return alarm.Cancel()
		}
		if conn.State().Has(connection.StateMarkForClose) {
			return alarm.Cancel()
		}

		r.log.Debug("connection has timed out", "conn", conn.String())
		r.destroyConnection(conn, true)
		return alarm.Cancel()
	}
}

// retryInitClientSocket implements _retry_init_client_socket.
func (r *Runtime) retryInitClientSocket(ip string, port int, connType connection.Type) {
	key := ipPort{ip, port}
	count, _ := r.numRetriesByIP.Get(key)
	count++
	r.numRetriesByIP.Add(key, count)

	if r.shouldRetryConnection(ip, port, connType) {
		r.log.Info("retrying connection", "conn_type", connType.String(), "ip", ip, "port", port, "attempt", count)
		r.EnqueueConnection(ip, port)
	} else {
		r.numRetriesByIP.Remove(key)
		r.log.Warn("maximum retry attempts exceeded, dropping connection", "conn_type", connType.String(), "ip", ip, "port", port)
		r.onFailedConnectionRetry(ip, port, connType)
	}
}

func (r *Runtime) flushAllSendBuffersAlarm(now time.Time) alarm.Outcome {
	// The actual socket flush is the event loop's job (out of scope, spec.md
	// §1); this alarm exists so FlushSendBuffersInterval keeps firing and a
	// concrete node can hook FlushHook to drive its socket layer.
	if r.FlushHook != nil {
		r.FlushHook(r.pool.All())
	}
	return alarm.Reschedule(config.FlushSendBuffersInterval)
}
