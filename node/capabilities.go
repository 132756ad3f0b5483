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
	"github.com/sasha00123/bxcommon/connection"
	"github.com/sasha00123/bxcommon/txservice"
)

// OutboundPeer is one entry of the node's configured or SDN-supplied outbound
// peer list.
type OutboundPeer struct {
	IP   string
	Port int
}

// Capabilities is the set of behaviors that differ between concrete node
// kinds (gateway, transaction relay, block relay) and so cannot live on the
// shared Runtime directly (spec.md §9: "abstract methods" modeled as a
// capability interface supplied at construction).
type Capabilities interface {
	// GetTxService returns the transaction service for networkNum, or the
	// default network's service when networkNum is config.AllNetworkNum.
	GetTxService(networkNum int32) *txservice.Service

	// GetOutboundPeerAddresses returns the node's current outbound peer list.
	GetOutboundPeerAddresses() []OutboundPeer

	// BuildConnection constructs the Connection object for a newly accepted
	// or completed socket, or nil if the node kind rejects this peer.
	BuildConnection(fileno int, ip string, port int, fromMe bool) *connection.Connection

	// SendRequestForRelayPeers asks the SDN for a fresh relay peer list,
	// invoked when a relay-type connection attempt is exhausted.
	SendRequestForRelayPeers()
}

// SocketConnection is the minimal handle the event-loop side (out of scope
// per spec.md §1) gives the runtime for an accepted or connecting socket.
type SocketConnection struct {
	Fileno int
}
