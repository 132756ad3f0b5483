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

// Package connection holds the per-peer data model of spec.md §3: the
// Connection struct, its lifecycle state bitmask, and the ConnectionType /
// NodeType flag-sets, modeled per spec.md §9 as typed bitmasks with named
// constants and set-like operations rather than a dynamic enum.
package connection

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Type is a bitmask identifying what role(s) a connection plays, per
// spec.md §3's connection_type flag-set.
type Type uint32

const (
	TypeNone Type = 0

	TypeSDN                    Type = 1 << iota
	TypeRelayTransaction
	TypeRelayBlock
	TypeBlockchainNode
	TypeRemoteBlockchainNode
	TypeGateway

	// TypeRelayAll is the union relays of either kind match against, used as
	// the default connection_types filter for broadcast (spec.md §4.4).
	TypeRelayAll = TypeRelayTransaction | TypeRelayBlock
)

var typeNames = []struct {
	bit  Type
	name string
}{
	{TypeSDN, "SDN"},
	{TypeRelayTransaction, "RELAY_TRANSACTION"},
	{TypeRelayBlock, "RELAY_BLOCK"},
	{TypeBlockchainNode, "BLOCKCHAIN_NODE"},
	{TypeRemoteBlockchainNode, "REMOTE_BLOCKCHAIN_NODE"},
	{TypeGateway, "GATEWAY"},
}

// AllTypeBits returns every individually-named Type flag, for callers (like
// connpool) that need to iterate the full type vocabulary rather than just
// the bits set on one value.
func AllTypeBits() []Type {
	out := make([]Type, len(typeNames))
	for i, tn := range typeNames {
		out[i] = tn.bit
	}
	return out
}

// Has reports whether every bit in other is set in t.
func (t Type) Has(other Type) bool { return t&other == other }

// Intersects reports whether t and other share any set bit.
func (t Type) Intersects(other Type) bool { return t&other != 0 }

// Subtypes returns the set of individual named flags set within t, modeled
// on bxcommon's NodeType.get_subtypes (spec.md §9, SPEC_FULL.md supplemented
// feature 1).
func (t Type) Subtypes() mapset.Set[Type] {
	out := mapset.NewThreadUnsafeSet[Type]()
	for _, tn := range typeNames {
		if t.Has(tn.bit) {
			out.Add(tn.bit)
		}
	}
	return out
}

// String renders the set bit names joined by '|', e.g. "RELAY_TRANSACTION|GATEWAY".
func (t Type) String() string {
	if t == TypeNone {
		return "NONE"
	}
	var names []string
	for _, tn := range typeNames {
		if t.Has(tn.bit) {
			names = append(names, tn.name)
		}
	}
	return strings.Join(names, "|")
}

// NodeType mirrors Type's shape for the node-level role advertised to the SDN
// (spec.md §6 register_node), kept distinct because a process's own node type
// and the type(s) of connections it accepts are different axes (a gateway's
// NodeType is GATEWAY but it holds BLOCKCHAIN_NODE and RELAY_ALL connections).
type NodeType uint32

const (
	NodeTypeInternalGateway NodeType = 1 << iota
	NodeTypeExternalGateway
	NodeTypeRelayTransaction
	NodeTypeRelayBlock
	NodeTypeAPI

	NodeTypeGateway = NodeTypeInternalGateway | NodeTypeExternalGateway
	NodeTypeRelay   = NodeTypeRelayTransaction | NodeTypeRelayBlock
)

var nodeTypeNames = []struct {
	bit  NodeType
	name string
}{
	{NodeTypeInternalGateway, "INTERNAL_GATEWAY"},
	{NodeTypeExternalGateway, "EXTERNAL_GATEWAY"},
	{NodeTypeRelayTransaction, "RELAY_TRANSACTION"},
	{NodeTypeRelayBlock, "RELAY_BLOCK"},
	{NodeTypeAPI, "API"},
}

func (t NodeType) Has(other NodeType) bool { return t&other == other }

func (t NodeType) Subtypes() mapset.Set[NodeType] {
	out := mapset.NewThreadUnsafeSet[NodeType]()
	for _, tn := range nodeTypeNames {
		if t.Has(tn.bit) {
			out.Add(tn.bit)
		}
	}
	return out
}

func (t NodeType) String() string {
	if t == 0 {
		return "NONE"
	}
	var names []string
	for _, tn := range nodeTypeNames {
		if t.Has(tn.bit) {
			names = append(names, tn.name)
		}
	}
	return strings.Join(names, "|")
}

// State is the connection lifecycle bitmask of spec.md §3.
type State uint32

const (
	StateConnecting  State = 1 << iota // initial, set on creation
	StateInitialized                   // socket usable for I/O
	StateEstablished                   // handshake complete
	StateMarkForClose                  // terminal; must not read or write further
)

func (s State) Has(other State) bool { return s&other == other }

func (s State) String() string {
	names := []struct {
		bit  State
		name string
	}{
		{StateConnecting, "CONNECTING"},
		{StateInitialized, "INITIALIZED"},
		{StateEstablished, "ESTABLISHED"},
		{StateMarkForClose, "MARK_FOR_CLOSE"},
	}
	var out []string
	for _, n := range names {
		if s.Has(n.bit) {
			out = append(out, n.name)
		}
	}
	if len(out) == 0 {
		return "NONE"
	}
	return strings.Join(out, "|")
}
