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

// Package pinglatency probes a set of outbound peers concurrently and reports
// their round-trip latency, the one piece of work spec.md §5 explicitly
// carves out of the single-threaded core and pushes onto an off-loop worker
// pool. Grounded on ping_latency.py's ThreadPoolExecutor fan-out, rewritten
// around golang.org/x/sync/errgroup since the examples favor errgroup over a
// hand-rolled WaitGroup for concurrent fan-out with error handling. Every peer
// gets its own goroutine; concurrency is not capped.
package pinglatency

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sasha00123/bxcommon/config"
	"github.com/sasha00123/bxcommon/node"
)

// Result is one peer's probe outcome. TimedOut is set, rather than returning
// an error, so a single unreachable peer never aborts the batch (mirroring
// get_ping_latency's own catch-all: a failure becomes a worst-case latency
// reading, not a dropped result).
type Result struct {
	Peer      node.OutboundPeer
	LatencyMS float64
	TimedOut  bool
}

// Prober issues a single round-trip probe against a peer, returning its
// latency. The default Prober opens a TCP connection to measure handshake
// latency rather than shelling out to the system ping binary, since the
// relay already has the peer's port and a real ICMP ping typically requires
// elevated privileges.
type Prober func(ctx context.Context, peer node.OutboundPeer) (time.Duration, error)

// TCPConnectProber is the default Prober: time to establish and tear down a
// TCP connection to peer.IP:peer.Port.
func TCPConnectProber(ctx context.Context, peer node.OutboundPeer) (time.Duration, error) {
	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", peer.IP, peer.Port))
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	conn.Close()
	return elapsed, nil
}

// GetLatencies probes every peer concurrently, bounded by config.PingTimeoutS
// per peer, and returns one Result per input peer in the same order.
func GetLatencies(ctx context.Context, peers []node.OutboundPeer, probe Prober) []Result {
	if probe == nil {
		probe = TCPConnectProber
	}

	results := make([]Result, len(peers))
	g, ctx := errgroup.WithContext(ctx)

	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, config.PingTimeoutS)
			defer cancel()

			latency, err := probe(probeCtx, peer)
			if err != nil {
				results[i] = Result{Peer: peer, LatencyMS: float64(config.PingTimeoutS.Milliseconds()), TimedOut: true}
				return nil
			}
			results[i] = Result{Peer: peer, LatencyMS: float64(latency.Microseconds()) / 1000.0}
			return nil
		})
	}

	// g.Wait's error is always nil: every goroutine above recovers its own
	// probe failure into a TimedOut result instead of propagating it.
	_ = g.Wait()
	return results
}
