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

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// OutboundPeer is a single pre-configured outbound peer address (spec.md
// §4.4's outbound_peers, supplied on the command line or via config file
// rather than discovered from the SDN).
type OutboundPeer struct {
	IP   string `toml:"ip"`
	Port int    `toml:"port"`
}

// NodeConfig is the node's on-disk configuration, loaded once at startup.
// SDN-sourced node attributes (spec.md §6 fetch_node_attributes/register_node)
// override these in the authoritative config assembled by the node, which is
// why every field here has a sensible local default.
type NodeConfig struct {
	NodeID              string         `toml:"node_id"`
	BlockchainNetworkNum int32         `toml:"blockchain_network_num"`
	SDNURL              string         `toml:"sdn_url"`
	OutboundPeers       []OutboundPeer `toml:"outbound_peers"`

	SidExpireTime        time.Duration `toml:"sid_expire_time"`
	TxCacheMemoryLimit   uint64        `toml:"tx_cache_memory_limit_bytes"`
	FinalTxConfirmations int           `toml:"final_tx_confirmations_count"`

	DumpRemovedShortIDs     bool   `toml:"dump_removed_short_ids"`
	DumpRemovedShortIDsPath string `toml:"dump_removed_short_ids_path"`

	StatsListenAddr string `toml:"stats_listen_addr"`
}

// Default returns a NodeConfig populated with this package's constants, for
// use before the SDN's authoritative values (if any) are merged in.
func Default() NodeConfig {
	return NodeConfig{
		SDNURL:               "https://sdn.blxrbdn.com",
		SidExpireTime:        SidExpireTime,
		TxCacheMemoryLimit:   DefaultTxCacheMemoryLimitBytes,
		FinalTxConfirmations: DefaultFinalTxConfirmationsCount,
		StatsListenAddr:      ":9090",
	}
}

// Load reads a TOML file at path into a copy of Default, overriding whatever
// fields the file sets.
func Load(path string) (NodeConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return NodeConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}
