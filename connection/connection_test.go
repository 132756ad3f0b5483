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
	"testing"

	"github.com/sasha00123/bxcommon/config"
	"github.com/sasha00123/bxcommon/internal/blog"
)

func TestMarkForCloseIsTerminal(t *testing.T) {
	c := New(1, "1.2.3.4", 9000, true, TypeGateway, 7, blog.Root())
	c.SetState(StateInitialized)
	c.MarkForClose()
	c.SetState(StateEstablished)

	if c.State().Has(StateEstablished) {
		t.Fatalf("no further state bits may be set after MARK_FOR_CLOSE")
	}
	if !c.State().Has(StateMarkForClose) {
		t.Fatalf("MARK_FOR_CLOSE must remain set")
	}
	if c.IsActive() {
		t.Fatalf("a connection marked for close must not be active")
	}
}

func TestLegalStateProgression(t *testing.T) {
	c := New(1, "1.2.3.4", 9000, true, TypeGateway, 7, blog.Root())
	if c.State() != StateConnecting {
		t.Fatalf("expected initial state CONNECTING, got %s", c.State())
	}
	c.SetState(StateInitialized)
	if !c.State().Has(StateConnecting) || !c.State().Has(StateInitialized) {
		t.Fatalf("expected CONNECTING|INITIALIZED, got %s", c.State())
	}
	c.SetState(StateEstablished)
	if !c.State().Has(StateEstablished) {
		t.Fatalf("expected ESTABLISHED bit set, got %s", c.State())
	}
}

func TestMatchesNetworkWildcard(t *testing.T) {
	wildcard := New(1, "1.2.3.4", 9000, true, TypeRelayAll, config.AllNetworkNum, blog.Root())
	if !wildcard.MatchesNetwork(7, false) {
		t.Fatalf("wildcard connection should match any network when exact match isn't required")
	}
	if wildcard.MatchesNetwork(7, true) {
		t.Fatalf("requireExactNetworkMatch must disable wildcard matching")
	}

	pinned := New(2, "1.2.3.5", 9000, true, TypeRelayAll, 7, blog.Root())
	if !pinned.MatchesNetwork(7, true) {
		t.Fatalf("exact network match should succeed when network_num matches")
	}
	if pinned.MatchesNetwork(8, true) {
		t.Fatalf("exact network match must fail for a different network_num")
	}
}

func TestTypeStringListsSetBits(t *testing.T) {
	ty := TypeGateway | TypeRelayTransaction
	s := ty.String()
	if s != "RELAY_TRANSACTION|GATEWAY" {
		t.Fatalf("unexpected String() output: %q", s)
	}
}
