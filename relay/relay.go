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

// Package relay is the concrete node.Capabilities implementation for a
// transaction/block relay, the node kind spec.md's transaction service and
// feed layer exist to serve. Grounded on abstract_node.py's split between
// the node-kind-agnostic event loop and the node-type-specific pieces
// (here, node_type.py's RELAY_TRANSACTION | RELAY_BLOCK) that a concrete
// subclass supplies.
package relay

import (
	"sync"

	"github.com/sasha00123/bxcommon/config"
	"github.com/sasha00123/bxcommon/connection"
	"github.com/sasha00123/bxcommon/internal/blog"
	"github.com/sasha00123/bxcommon/node"
	"github.com/sasha00123/bxcommon/sdn"
	"github.com/sasha00123/bxcommon/txservice"
)

// Node is a transaction/block relay: it holds one transaction service per
// network it relays for and a fixed outbound peer list (other relays it always
// stays connected to). Relay-peer refresh requests are only logged; nothing is
// sent to the SDN for them.
type Node struct {
	sdn        sdn.Client
	log        blog.Logger
	id         string
	networkNum int32

	mu            sync.Mutex
	txServices    map[int32]*txservice.Service
	outboundPeers []node.OutboundPeer
}

// New returns a relay Node with the given fixed outbound peers (spec.md
// §4.4's outbound_peers) and no transaction services registered yet; call
// RegisterNetwork once per blockchain network this relay serves. networkNum
// is the network newly accepted connections are tagged with until the
// protocol layer (out of scope, spec.md §1) reclassifies them.
func New(nodeID string, networkNum int32, sdnClient sdn.Client, outboundPeers []node.OutboundPeer, log blog.Logger) *Node {
	return &Node{
		sdn:           sdnClient,
		log:           log.With("component", "relay"),
		id:            nodeID,
		networkNum:    networkNum,
		txServices:    make(map[int32]*txservice.Service),
		outboundPeers: append([]node.OutboundPeer(nil), outboundPeers...),
	}
}

// RegisterNetwork attaches svc as the transaction service for networkNum.
func (n *Node) RegisterNetwork(networkNum int32, svc *txservice.Service) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txServices[networkNum] = svc
}

// GetTxService implements node.Capabilities.
func (n *Node) GetTxService(networkNum int32) *txservice.Service {
	n.mu.Lock()
	defer n.mu.Unlock()
	if networkNum == config.AllNetworkNum {
		networkNum = n.networkNum
	}
	return n.txServices[networkNum]
}

// GetOutboundPeerAddresses implements node.Capabilities.
func (n *Node) GetOutboundPeerAddresses() []node.OutboundPeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]node.OutboundPeer(nil), n.outboundPeers...)
}

// BuildConnection implements node.Capabilities: every peer a relay accepts
// or dials is itself a relay, carrying both transaction and block traffic.
func (n *Node) BuildConnection(fileno int, ip string, port int, fromMe bool) *connection.Connection {
	return connection.New(fileno, ip, port, fromMe, connection.TypeRelayAll, n.networkNum, n.log)
}

// SendRequestForRelayPeers implements node.Capabilities: relays don't churn
// their own peer list on a failed connection the way a gateway refreshing
// its relay assignment would, so this is a log-only hook a concrete
// deployment can still observe.
func (n *Node) SendRequestForRelayPeers() {
	n.log.Debug("relay peer connection exhausted its retries; no relay-peer refresh configured for this node kind")
}
