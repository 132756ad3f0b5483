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

// Package config centralizes the constants spec.md §6 calls out as affecting
// behavior and requiring configurability, plus the TOML-backed NodeConfig
// that cmd/bxcoded loads at startup.
package config

import "time"

// AllNetworkNum is the wildcard network_num: a connection or broadcast
// request carrying it matches every concrete network.
const AllNetworkNum int32 = 0

// NullTxSID is the sentinel short id meaning "no short id assigned."
const NullTxSID uint32 = 0

const (
	// OutputBufferBatchMaxHoldTime bounds how long bytes may sit in an
	// output buffer before a flush is forced (Nagle-style batching).
	OutputBufferBatchMaxHoldTime = 8 * time.Millisecond

	// ConnectionTimeout is how long a connection may remain non-ESTABLISHED
	// before the node gives up on it (spec.md §4.3).
	ConnectionTimeout = 3 * time.Second

	// ConnectionRetrySeconds is the retry delay used for outbound peer,
	// blockchain-node, remote-blockchain-node, and SDN connections.
	ConnectionRetrySeconds = 1 * time.Second

	// PingIntervalS is the keep-alive ping cadence once a connection is
	// ESTABLISHED.
	PingIntervalS = 10 * time.Second

	// MaxConnectRetries caps retries for any non-SDN peer, per (ip,port).
	// SDN connections retry unlimited (spec.md §4.3).
	MaxConnectRetries = 7

	// DefaultSleepTimeout is the event loop's polling interval floor used
	// when no alarm is pending (spec.md §4.4).
	DefaultSleepTimeout = 30 * time.Second

	// SidExpireTime is the TTL a short-id assignment survives before
	// expire_old_assignments reclaims it (spec.md §4.6).
	SidExpireTime = 30 * time.Minute

	// DefaultTxCacheMemoryLimitBytes is the default hard cap on
	// total_tx_contents_size (spec.md §4.6).
	DefaultTxCacheMemoryLimitBytes = 4 * 1024 * 1024 * 1024 // 4 GiB

	// DefaultFinalTxConfirmationsCount is how many track_seen_short_ids
	// batches are retained before the oldest is evicted (spec.md §4.6).
	DefaultFinalTxConfirmationsCount = 24

	// MemoryUsageIncreaseForNextReportBytes gates how often the node's
	// detailed memory dump (§7 Observability) fires again.
	MemoryUsageIncreaseForNextReportBytes = 100 * 1024 * 1024

	// FlushSendBuffersInterval is the periodic alarm that force-flushes every
	// connection's output buffer, covering the Nagle-batching window even
	// for connections that never receive new writes.
	FlushSendBuffersInterval = 2 * OutputBufferBatchMaxHoldTime

	// PingTimeoutS bounds how long the off-loop latency probe worker pool
	// waits for a single peer's ping round-trip before recording it as timed
	// out (spec.md SUPPLEMENTED FEATURES: ping-latency probing).
	PingTimeoutS = 5 * time.Second
)

// retryBackoffSchedule is the exact backoff ladder from spec.md §4.3:
// "1,1,2,3,5,8,13 seconds, capped at 13."
var retryBackoffSchedule = []time.Duration{
	1 * time.Second,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	13 * time.Second,
}

// RetryBackoff returns the delay before the (1-indexed) attempt'th retry,
// capped at the schedule's final (13s) entry for any attempt beyond it.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(retryBackoffSchedule) {
		idx = len(retryBackoffSchedule) - 1
	}
	return retryBackoffSchedule[idx]
}
