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

package feed

import (
	"math/big"
	"testing"

	"github.com/sasha00123/bxcommon/config"
)

func addr(suffix string) string { return "0xabc" + suffix }

// TestFeedFilterScenario exercises spec.md §8 S6 directly: a subscriber
// filters on value > 10 AND to == 0xabc.
func TestFeedFilterScenario(t *testing.T) {
	f := NewEthNewTransactionFeed(config.AllNetworkNum)
	sink := NewChannelSink[TransactionEntry](4)

	_, err := f.Subscribe(sink, SubscribeOptions{
		Filters: `value > 10 and to == "0xabc"`,
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	publish := func(value int64, to string) {
		f.Publish(RawTransaction{
			TxHash: "0x1",
			Value:  big.NewInt(value),
			To:     to,
			From:   addr("from"),
			Input:  []byte{0xaa, 0xbb, 0xcc, 0xdd},
		})
	}

	publish(5, "0xabc")
	publish(20, "0xdef")
	publish(20, "0xabc")

	select {
	case entry := <-sink.C:
		if entry.TxContents.Value != "20" {
			t.Fatalf("expected only the value=20,to=0xabc tx to be delivered, got %+v", entry)
		}
	default:
		t.Fatalf("expected exactly one delivery, got none")
	}

	select {
	case entry := <-sink.C:
		t.Fatalf("expected only one delivery, got a second: %+v", entry)
	default:
	}
}

func TestAnySubscribersWantItemGatesBlockchainSource(t *testing.T) {
	f := NewEthNewTransactionFeed(config.AllNetworkNum)
	raw := NewRawTransactionFromBlockchain(RawTransaction{TxHash: "0x1", Value: big.NewInt(1), To: "0xabc"})

	if f.AnySubscribersWantItem(raw) {
		t.Fatalf("expected no interest with zero subscribers")
	}

	sink := NewChannelSink[TransactionEntry](1)
	_, err := f.Subscribe(sink, SubscribeOptions{ExcludeFromBlockchain: true})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if f.AnySubscribersWantItem(raw) {
		t.Fatalf("expected no interest when the only subscriber opted out of blockchain-sourced items")
	}

	sink2 := NewChannelSink[TransactionEntry](1)
	_, err = f.Subscribe(sink2, SubscribeOptions{ExcludeFromBlockchain: false})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !f.AnySubscribersWantItem(raw) {
		t.Fatalf("expected interest once a subscriber opts in")
	}
}

func TestIncludeFromBlockchainDefaultsToTrue(t *testing.T) {
	f := NewEthNewTransactionFeed(config.AllNetworkNum)
	raw := NewRawTransactionFromBlockchain(RawTransaction{TxHash: "0x1", Value: big.NewInt(1), To: "0xabc"})

	sink := NewChannelSink[TransactionEntry](1)
	if _, err := f.Subscribe(sink, SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if !f.AnySubscribersWantItem(raw) {
		t.Fatalf("expected a subscriber with unset options to accept blockchain-sourced items by default")
	}
}

func TestFieldProjection(t *testing.T) {
	f := NewEthNewTransactionFeed(config.AllNetworkNum)
	sink := NewChannelSink[TransactionEntry](1)
	_, err := f.Subscribe(sink, SubscribeOptions{Fields: []string{"tx_hash", "tx_contents.to"}})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	f.Publish(RawTransaction{TxHash: "0xdeadbeef", Value: big.NewInt(1), To: "0xABC", From: "0xDEF"})

	entry := <-sink.C
	if entry.TxHash != "0xdeadbeef" {
		t.Fatalf("expected tx_hash projected, got %+v", entry)
	}
	if entry.TxContents.To != "0xabc" {
		t.Fatalf("expected tx_contents.to projected and lowercased, got %+v", entry)
	}
	if entry.TxContents.From != "" {
		t.Fatalf("expected tx_contents.from to be dropped by projection, got %+v", entry)
	}
}

func TestReformatInputToMethodID(t *testing.T) {
	if got := reformatInputToMethodID("0xa9059cbb000011"); got != "0xa9059cbb" {
		t.Fatalf("expected method id 0xa9059cbb, got %q", got)
	}
	if got := reformatInputToMethodID("0x"); got != "" {
		t.Fatalf("expected empty method id for empty input, got %q", got)
	}
}

func TestUnrecognizedFilterFieldRejectedAtSubscribe(t *testing.T) {
	f := NewEthNewTransactionFeed(config.AllNetworkNum)
	sink := NewChannelSink[TransactionEntry](1)
	_, err := f.Subscribe(sink, SubscribeOptions{Filters: `nonsense_field == 1`})
	if err == nil {
		t.Fatalf("expected unrecognized filter field to be rejected at subscribe time")
	}
}

func TestPublishDedupSuppressesRepeats(t *testing.T) {
	d := NewPublishDedup(1024 * 1024)
	if d.SeenBefore("0xabc") {
		t.Fatalf("first sighting must not be reported as seen")
	}
	if !d.SeenBefore("0xabc") {
		t.Fatalf("second sighting of the same key must be reported as seen")
	}
	d.Reset()
	if d.SeenBefore("0xabc") {
		t.Fatalf("after Reset the key should be forgotten")
	}
}

func TestPublishDedupSuppressesSecondPublishOfSameHash(t *testing.T) {
	f := NewEthNewTransactionFeed(config.AllNetworkNum)
	f.EnablePublishDedup(NewPublishDedup(DefaultPublishDedupCacheBytes))

	sink := NewChannelSink[TransactionEntry](4)
	if _, err := f.Subscribe(sink, SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	tx := RawTransaction{TxHash: "0x1", Value: big.NewInt(1), To: addr("to")}
	f.Publish(tx)
	f.Publish(tx)

	select {
	case <-sink.C:
	default:
		t.Fatalf("expected the first publish of a new hash to be delivered")
	}
	select {
	case entry := <-sink.C:
		t.Fatalf("expected the repeated publish of the same hash to be suppressed by dedup, got %+v", entry)
	default:
	}
}
