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
	"github.com/VictoriaMetrics/fastcache"
)

// DefaultPublishDedupCacheBytes is the default approximate memory budget
// passed to NewPublishDedup by callers that enable de-dup on a feed (no feed
// constructor enables it; cmd/bxcoded does, via EnablePublishDedup), gating
// the feature's footprint independently of txservice's exact byte accounting
// (spec.md §4.6's total_tx_contents_size is never affected by this cache).
const DefaultPublishDedupCacheBytes = 32 * 1024 * 1024

// PublishDedup suppresses re-publishing the same raw item to a feed twice,
// e.g. when a transaction is seen first from the blockchain node and again
// moments later relayed from a peer. It is backed by fastcache, whose
// bucketed, approximate-LRU eviction is the right fit here: unlike
// txservice's byte-exact accounting, a dedup window only needs "probably
// still recent," and fastcache's fixed memory footprint avoids the
// bookkeeping a precise TTL structure would add for no behavioral benefit.
type PublishDedup struct {
	cache *fastcache.Cache
}

// NewPublishDedup creates a dedup cache with the given approximate memory
// budget in bytes.
func NewPublishDedup(maxBytes int) *PublishDedup {
	return &PublishDedup{cache: fastcache.New(maxBytes)}
}

// SeenBefore reports whether key was already recorded, and records it if not.
func (d *PublishDedup) SeenBefore(key string) bool {
	if d.cache.Has([]byte(key)) {
		return true
	}
	d.cache.Set([]byte(key), []byte{1})
	return false
}

// Reset clears the dedup window, e.g. on a reorg where previously-published
// transactions may legitimately need republishing.
func (d *PublishDedup) Reset() {
	d.cache.Reset()
}
