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
	"encoding/hex"
	"math/big"
	"strings"
)

// NewTxsFeedName matches the source feed's registered name ("newTxs" in
// eth_new_transaction_feed.py).
const NewTxsFeedName = "newTxs"

// RawTransaction is the unserialized publish input for the new-transaction
// feed, grounded on eth_new_transaction_feed.py's EthRawTransaction.
type RawTransaction struct {
	TxHash     string
	Nonce      string
	GasPrice   *big.Int
	Gas        string
	To         string
	Value      *big.Int
	Input      []byte
	V, R, S    string
	From       string
	LocalRegion bool

	fromBlockchainSocket bool
}

// FromBlockchainSocket reports whether this transaction arrived directly
// from the connected blockchain node, satisfying the feed.Raw interface.
func (r RawTransaction) FromBlockchainSocket() bool { return r.fromBlockchainSocket }

// NewRawTransactionFromBlockchain marks a raw transaction as sourced from
// the node's own blockchain connection (as opposed to relayed from a peer),
// so the feed's include_from_blockchain opt-out applies to it.
func NewRawTransactionFromBlockchain(tx RawTransaction) RawTransaction {
	tx.fromBlockchainSocket = true
	return tx
}

// DedupKey satisfies the feed.Raw interface: a transaction is uniquely
// identified by its hash regardless of how many times or from how many
// sources it's published.
func (r RawTransaction) DedupKey() string { return r.TxHash }

// TransactionEntry is the serialized, subscriber-facing shape: the full
// contents plus hash and locality flag, mirroring EthTransactionFeedEntry.
type TransactionEntry struct {
	TxHash      string         `json:"tx_hash"`
	TxContents  TransactionBody `json:"tx_contents"`
	LocalRegion bool           `json:"local_region"`
}

// TransactionBody is the field-projectable inner payload.
type TransactionBody struct {
	Nonce    string `json:"nonce,omitempty"`
	GasPrice string `json:"gas_price,omitempty"`
	Gas      string `json:"gas,omitempty"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Input    string `json:"input,omitempty"`
	V        string `json:"v,omitempty"`
	R        string `json:"r,omitempty"`
	S        string `json:"s,omitempty"`
	From     string `json:"from,omitempty"`
}

// NewEthNewTransactionFeed builds the concrete "newTxs" feed described by
// spec.md §4.7 and S6, wiring serialization, filter-state extraction, and
// field projection.
func NewEthNewTransactionFeed(networkNum int32) *Feed[RawTransaction, TransactionEntry] {
	return New[RawTransaction, TransactionEntry](
		NewTxsFeedName,
		networkNum,
		serializeRawTransaction,
		extractTransactionFilterState,
		projectTransactionEntry,
	)
}

func serializeRawTransaction(raw RawTransaction) TransactionEntry {
	gasPrice := ""
	if raw.GasPrice != nil {
		gasPrice = raw.GasPrice.String()
	}
	value := ""
	if raw.Value != nil {
		value = raw.Value.String()
	}
	return TransactionEntry{
		TxHash: raw.TxHash,
		TxContents: TransactionBody{
			Nonce:    raw.Nonce,
			GasPrice: gasPrice,
			Gas:      raw.Gas,
			To:       reformatAddress(raw.To),
			Value:    value,
			Input:    hex.EncodeToString(raw.Input),
			V:        raw.V,
			R:        raw.R,
			S:        raw.S,
			From:     reformatAddress(raw.From),
		},
		LocalRegion: raw.LocalRegion,
	}
}

// extractTransactionFilterState derives the state record spec.md §4.7
// evaluates filter expressions against, grounded on
// eth_new_transaction_feed.py's should_publish_message_to_subscriber, which
// builds the same five-key dict from tx_contents before calling
// subscriber.validate.
func extractTransactionFilterState(entry TransactionEntry) FilterState {
	return FilterState{
		Value:    decimalStringToFloat(entry.TxContents.Value),
		From:     entry.TxContents.From,
		To:       entry.TxContents.To,
		GasPrice: decimalStringToFloat(entry.TxContents.GasPrice),
		MethodID: reformatInputToMethodID(entry.TxContents.Input),
	}
}

// decimalStringToFloat converts the decimal string form of a *big.Int
// (as produced by serializeRawTransaction) to a float64 for filter
// comparison. Values beyond float64's exact integer range lose precision in
// the low digits, an acceptable tradeoff for a best-effort inequality filter
// (spec.md §4.7). Equality filters on value or gas_price are compared on
// this float64 form too, so for such large values they are approximate.
func decimalStringToFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return 0
	}
	v, _ := f.Float64()
	return v
}

func projectTransactionEntry(entry TransactionEntry, fields map[string]struct{}) TransactionEntry {
	if fields == nil {
		return entry
	}
	out := TransactionEntry{}
	if _, ok := fields["tx_hash"]; ok {
		out.TxHash = entry.TxHash
	}
	if _, ok := fields["local_region"]; ok {
		out.LocalRegion = entry.LocalRegion
	}
	if _, ok := fields["tx_contents"]; ok {
		out.TxContents = entry.TxContents
		return out
	}
	body := TransactionBody{}
	any := false
	if _, ok := fields["tx_contents.nonce"]; ok {
		body.Nonce = entry.TxContents.Nonce
		any = true
	}
	if _, ok := fields["tx_contents.gas_price"]; ok {
		body.GasPrice = entry.TxContents.GasPrice
		any = true
	}
	if _, ok := fields["tx_contents.gas"]; ok {
		body.Gas = entry.TxContents.Gas
		any = true
	}
	if _, ok := fields["tx_contents.to"]; ok {
		body.To = entry.TxContents.To
		any = true
	}
	if _, ok := fields["tx_contents.value"]; ok {
		body.Value = entry.TxContents.Value
		any = true
	}
	if _, ok := fields["tx_contents.input"]; ok {
		body.Input = entry.TxContents.Input
		any = true
	}
	if _, ok := fields["tx_contents.from"]; ok {
		body.From = entry.TxContents.From
		any = true
	}
	if any {
		out.TxContents = body
	}
	return out
}

// reformatAddress lowercases an address for consistent filter/equality
// comparisons, matching eth_filter_handlers.reformat_address's intent.
func reformatAddress(addr string) string {
	return strings.ToLower(addr)
}

// reformatInputToMethodID derives the 4-byte method selector from a
// transaction's input data, matching
// eth_filter_handlers.reformat_input_to_method_id. An input shorter than 4
// bytes (a plain value transfer) has no method id.
func reformatInputToMethodID(inputHex string) string {
	raw, err := hex.DecodeString(strings.TrimPrefix(inputHex, "0x"))
	if err != nil || len(raw) < 4 {
		return ""
	}
	return "0x" + hex.EncodeToString(raw[:4])
}
