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

package relay

import (
	"testing"

	"github.com/sasha00123/bxcommon/alarm"
	"github.com/sasha00123/bxcommon/connection"
	"github.com/sasha00123/bxcommon/internal/blog"
	"github.com/sasha00123/bxcommon/node"
	"github.com/sasha00123/bxcommon/sdn"
	"github.com/sasha00123/bxcommon/txservice"
)

type fakeSdnClient struct{ sdn.Client }

func TestBuildConnectionCarriesRelayAllAndConfiguredNetwork(t *testing.T) {
	n := New("relay-1", 7, fakeSdnClient{}, nil, blog.Root())
	conn := n.BuildConnection(1, "10.0.0.1", 1800, true)

	if conn.Type != connection.TypeRelayAll {
		t.Fatalf("expected TypeRelayAll, got %s", conn.Type)
	}
	if conn.NetworkNum != 7 {
		t.Fatalf("expected network num 7, got %d", conn.NetworkNum)
	}
}

func TestRegisterNetworkAndGetTxService(t *testing.T) {
	n := New("relay-1", 7, fakeSdnClient{}, nil, blog.Root())
	if n.GetTxService(7) != nil {
		t.Fatalf("expected no tx service before registration")
	}

	svc := txservice.New(7, alarm.New(), blog.Root())
	n.RegisterNetwork(7, svc)

	if n.GetTxService(7) != svc {
		t.Fatalf("expected GetTxService to return the registered service")
	}
}

func TestGetOutboundPeerAddressesReturnsConfiguredPeers(t *testing.T) {
	peers := []node.OutboundPeer{{IP: "1.2.3.4", Port: 1800}}
	n := New("relay-1", 7, fakeSdnClient{}, peers, blog.Root())

	got := n.GetOutboundPeerAddresses()
	if len(got) != 1 || got[0] != peers[0] {
		t.Fatalf("expected configured outbound peers back, got %+v", got)
	}
}

func TestSendRequestForRelayPeersDoesNotPanic(t *testing.T) {
	n := New("relay-1", 7, fakeSdnClient{}, nil, blog.Root())
	n.SendRequestForRelayPeers()
}
