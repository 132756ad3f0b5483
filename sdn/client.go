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

// Package sdn is the node's client for the service discovery network: the
// out-of-process directory that hands out peer lists, blockchain network
// parameters, and node registration, grounded on
// sdn_http_service.py. The HTTP transport is plain stdlib net/http — there is
// no domain-relevant HTTP client library anywhere in the example pack to
// prefer over it (the pack's only HTTP-adjacent dependency, gorilla/websocket,
// is wired into the feed layer instead, not here), so this is one of the
// few components this repo builds directly on the standard library; see
// DESIGN.md.
package sdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sasha00123/bxcommon/internal/blog"
)

// NodeModel is the SDN's record for a single node, returned from
// register_node and fetch_node_attributes.
type NodeModel struct {
	NodeID               string `json:"node_id"`
	NodeType             string `json:"node_type"`
	BlockchainNetworkNum int32  `json:"blockchain_network_num"`
	ExternalIP           string `json:"external_ip"`
	ExternalPort         int    `json:"external_port"`
}

// OutboundPeerModel is one entry of a peer list response.
type OutboundPeerModel struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
}

// BlockchainNetworkModel carries the chain parameters a node needs to talk to
// a given blockchain network.
type BlockchainNetworkModel struct {
	NetworkNum   int32  `json:"network_num"`
	ProtocolName string `json:"protocol"`
	NetworkName  string `json:"network_name"`
	BlockInterval int   `json:"block_interval_seconds"`
}

// NodeEventType mirrors NodeEventModel.event_type's enumerated values.
type NodeEventType string

const (
	NodeEventOnline                   NodeEventType = "ONLINE"
	NodeEventOffline                  NodeEventType = "OFFLINE"
	NodeEventSIDSpaceFull             NodeEventType = "SID_SPACE_FULL"
	NodeEventPeerConnError            NodeEventType = "PEER_CONN_ERR"
	NodeEventTxServiceFullySynced     NodeEventType = "TX_SERVICE_FULLY_SYNCED"
	NodeEventTxServiceSyncedInNetwork NodeEventType = "TX_SERVICE_SYNCED_IN_NETWORK"
)

// NodeEventModel is the payload submit_node_event posts to the SDN.
type NodeEventModel struct {
	NodeID    string        `json:"node_id"`
	EventType NodeEventType `json:"event_type"`
	PeerIP    string        `json:"peer_ip,omitempty"`
	PeerPort  int           `json:"peer_port,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// Client is the capability interface a node.Runtime depends on (spec.md §9's
// abstract-methods-to-capability-interface redesign), so tests can substitute
// a fake without standing up an HTTP server.
type Client interface {
	RegisterNode(ctx context.Context, node NodeModel) (NodeModel, error)
	FetchNodeAttributes(ctx context.Context, nodeID string) (NodeModel, error)
	FetchPotentialRelayPeers(ctx context.Context, nodeID string) ([]OutboundPeerModel, error)
	FetchBlockchainNetwork(ctx context.Context, protocolName, networkName string) (BlockchainNetworkModel, error)
	FetchBlockchainNetworks(ctx context.Context) ([]BlockchainNetworkModel, error)
	SubmitNodeEvent(ctx context.Context, event NodeEventModel) error
	SubmitGatewayInboundConnection(ctx context.Context, nodeID, peerID string) error
	DeleteGatewayInboundConnection(ctx context.Context, nodeID, peerID string) error
}

// HTTPClient is the concrete stdlib-backed implementation of Client.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     blog.Logger
}

// NewHTTPClient returns a Client pointed at baseURL (e.g.
// "https://sdn.blxrbdn.com").
func NewHTTPClient(baseURL string, log blog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.With("component", "sdn"),
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sdn: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, out)
}

func (c *HTTPClient) deleteJSON(ctx context.Context, path string, body any) error {
	return c.sendJSON(ctx, http.MethodDelete, path, body, nil)
}

func (c *HTTPClient) sendJSON(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sdn: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RegisterNode implements register_node: posts this node's model and expects
// the SDN to echo back the assigned configuration.
func (c *HTTPClient) RegisterNode(ctx context.Context, node NodeModel) (NodeModel, error) {
	var out NodeModel
	if err := c.postJSON(ctx, "/nodes", node, &out); err != nil {
		return NodeModel{}, fmt.Errorf("unable to reach SDN and register this node: %w", err)
	}
	return out, nil
}

// FetchNodeAttributes implements fetch_node_attributes, used for test
// networks only per the source's comment: a periodic re-fetch to pick up
// node-level config (outbound peer set, network assignment) the SDN may have
// changed out from under this process.
func (c *HTTPClient) FetchNodeAttributes(ctx context.Context, nodeID string) (NodeModel, error) {
	var out NodeModel
	err := c.getJSON(ctx, fmt.Sprintf("/nodes/%s", nodeID), &out)
	return out, err
}

// FetchPotentialRelayPeers implements fetch_potential_relay_peers.
func (c *HTTPClient) FetchPotentialRelayPeers(ctx context.Context, nodeID string) ([]OutboundPeerModel, error) {
	var out []OutboundPeerModel
	if err := c.getJSON(ctx, fmt.Sprintf("/nodes/%s/potential-relays", nodeID), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		c.log.Warn("got no outbound peers from SDN", "node_id", nodeID)
	}
	return out, nil
}

// FetchBlockchainNetwork implements fetch_blockchain_network.
func (c *HTTPClient) FetchBlockchainNetwork(ctx context.Context, protocolName, networkName string) (BlockchainNetworkModel, error) {
	var out BlockchainNetworkModel
	err := c.getJSON(ctx, fmt.Sprintf("/blockchain-networks/%s/%s", protocolName, networkName), &out)
	return out, err
}

// FetchBlockchainNetworks implements fetch_blockchain_networks.
func (c *HTTPClient) FetchBlockchainNetworks(ctx context.Context) ([]BlockchainNetworkModel, error) {
	var out []BlockchainNetworkModel
	if err := c.getJSON(ctx, "/blockchain-networks", &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		c.log.Warn("no blockchain networks configured in SDN")
	}
	return out, nil
}

// SubmitNodeEvent implements submit_node_event, stamping the timestamp the
// way the source does at submission time.
func (c *HTTPClient) SubmitNodeEvent(ctx context.Context, event NodeEventModel) error {
	event.Timestamp = fmt.Sprintf("%d", time.Now().Unix())
	return c.postJSON(ctx, fmt.Sprintf("/nodes/%s/events", event.NodeID), event, nil)
}

// SubmitGatewayInboundConnection implements submit_gateway_inbound_connection.
func (c *HTTPClient) SubmitGatewayInboundConnection(ctx context.Context, nodeID, peerID string) error {
	return c.postJSON(ctx, fmt.Sprintf("/nodes/%s/gateway-inbound-connections", nodeID), peerID, nil)
}

// DeleteGatewayInboundConnection implements delete_gateway_inbound_connection.
func (c *HTTPClient) DeleteGatewayInboundConnection(ctx context.Context, nodeID, peerID string) error {
	return c.deleteJSON(ctx, fmt.Sprintf("/nodes/%s/gateway-inbound-connections", nodeID), peerID)
}
