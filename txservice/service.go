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

// Package txservice implements the hash<->short-id<->contents three-way
// index of spec.md §4.6, under a hard memory cap and TTL/block-confirmation
// driven eviction.
//
// The three maps (hash_to_short_ids, short_id_to_hash, hash_to_contents) are
// plain Go maps, not a general-purpose cache library like
// github.com/VictoriaMetrics/fastcache: the removal rule in spec.md §4.6 and
// the byte-exact total_tx_contents_size invariant in spec.md §8 require every
// eviction to go through _remove_transaction_by_short_id exactly once, driven
// by this package's own expiration queue — a cache with its own internal,
// opaque LRU policy (fastcache's bucket eviction) cannot give that guarantee.
// fastcache is put to use instead in the feed package's publish-side dedup
// cache, where approximate eviction is the right fit. See DESIGN.md.
package txservice

import (
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/sasha00123/bxcommon/alarm"
	"github.com/sasha00123/bxcommon/config"
	"github.com/sasha00123/bxcommon/expirequeue"
	"github.com/sasha00123/bxcommon/internal/blog"
)

// NullTxSID is re-exported for callers that only import txservice.
const NullTxSID = config.NullTxSID

// HashKey is the canonical hex-string cache key every accepted hash
// representation (a raw 32-byte digest, a hex string, or a richer wrapper
// type elsewhere in a concrete node) is normalized to at the interface
// boundary, per spec.md §4.6 and §9 "specify one canonical representation at
// the interface boundary."
type HashKey string

// NewHashKey normalizes raw bytes to a HashKey.
func NewHashKey(raw []byte) HashKey { return HashKey(hex.EncodeToString(raw)) }

// NewHashKeyFromHex normalizes an already-hex string to a HashKey (lowercased
// so two different-case encodings of the same hash collide, as spec.md §4.6
// requires: "equality is by content").
func NewHashKeyFromHex(s string) HashKey {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return HashKey(toLowerASCII(s))
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// TransactionInfo is the result of a short-id or hash lookup: fields may be
// independently absent, matching spec.md §4.6's get_transaction contract.
type TransactionInfo struct {
	Hash     HashKey
	HasHash  bool
	Contents []byte
	ShortID  uint32
}

// AlarmRegistrar is the subset of *alarm.Queue the service needs, so tests
// can substitute a fake.
type AlarmRegistrar interface {
	RegisterAlarm(delay time.Duration, cb alarm.Callback) alarm.Handle
}

// Service is the per-network transaction index described by spec.md §4.6.
type Service struct {
	networkNum int32
	alarms     AlarmRegistrar
	log        blog.Logger

	memoryLimit              uint64
	finalTxConfirmationsCount int
	sidExpireTime             time.Duration

	mu sync.Mutex

	hashToShortIDs map[HashKey]map[uint32]struct{}
	shortIDToHash  map[uint32]HashKey
	hashToContents map[HashKey][]byte

	expireQueue *expirequeue.Queue[uint32]

	shortIDsSeenInBlock [][]uint32

	totalContentsSize     uint64
	totalRemovedByMemory  uint64
	assignAlarmScheduled  bool

	// dumpRemoved, if non-nil, receives one line per short id removed via
	// _remove_transaction_by_short_id, matching spec.md §6's optional
	// "removed-short-ids" debug dump.
	dumpRemoved io.Writer
}

// Option configures optional Service behavior at construction.
type Option func(*Service)

// WithMemoryLimit overrides config.DefaultTxCacheMemoryLimitBytes.
func WithMemoryLimit(limitBytes uint64) Option {
	return func(s *Service) { s.memoryLimit = limitBytes }
}

// WithFinalTxConfirmationsCount overrides config.DefaultFinalTxConfirmationsCount.
func WithFinalTxConfirmationsCount(n int) Option {
	return func(s *Service) { s.finalTxConfirmationsCount = n }
}

// WithSidExpireTime overrides config.SidExpireTime.
func WithSidExpireTime(d time.Duration) Option {
	return func(s *Service) { s.sidExpireTime = d }
}

// WithRemovedShortIDsDump installs a debug-dump sink (spec.md §6).
func WithRemovedShortIDsDump(w io.Writer) Option {
	return func(s *Service) { s.dumpRemoved = w }
}

// New constructs a Service for one blockchain network, registering its
// alarms through alarms.
func New(networkNum int32, alarms AlarmRegistrar, log blog.Logger, opts ...Option) *Service {
	s := &Service{
		networkNum:                networkNum,
		alarms:                     alarms,
		log:                        log.With("network_num", networkNum),
		memoryLimit:                config.DefaultTxCacheMemoryLimitBytes,
		finalTxConfirmationsCount:  config.DefaultFinalTxConfirmationsCount,
		sidExpireTime:              config.SidExpireTime,
		hashToShortIDs:             make(map[HashKey]map[uint32]struct{}),
		shortIDToHash:              make(map[uint32]HashKey),
		hashToContents:             make(map[HashKey][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.expireQueue = expirequeue.New[uint32](s.sidExpireTime)
	return s
}

// SetTransactionContents replaces (or sets for the first time) the raw bytes
// cached under hash, adjusting total_tx_contents_size by the size delta, then
// running memory-cap eviction.
func (s *Service) SetTransactionContents(hash HashKey, contents []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := len(s.hashToContents[hash])
	s.hashToContents[hash] = contents
	s.totalContentsSize += uint64(len(contents))
	if previous > 0 {
		s.totalContentsSize -= uint64(previous)
	}

	s.memoryLimitCleanUpLocked()
}

// HasTransactionContents reports whether hash's raw contents are cached.
func (s *Service) HasTransactionContents(hash HashKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hashToContents[hash]
	return ok
}

// HasTransactionShortID reports whether hash has at least one short id
// assigned.
func (s *Service) HasTransactionShortID(hash HashKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hashToShortIDs[hash]
	return ok
}

// HasShortID reports whether shortID is currently assigned to any hash.
func (s *Service) HasShortID(shortID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.shortIDToHash[shortID]
	return ok
}

// AssignShortID records that shortID now refers to hash, scheduling the
// expire_old_assignments alarm if one isn't already pending.
func (s *Service) AssignShortID(hash HashKey, shortID uint32) {
	if shortID == config.NullTxSID {
		s.log.Warn("attempt to assign null SID to transaction, ignoring", "hash", hash)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hashToShortIDs[hash] == nil {
		s.hashToShortIDs[hash] = make(map[uint32]struct{})
	}
	s.hashToShortIDs[hash][shortID] = struct{}{}
	s.shortIDToHash[shortID] = hash
	s.expireQueue.Add(shortID)

	if !s.assignAlarmScheduled {
		s.alarms.RegisterAlarm(s.sidExpireTime, s.expireOldAssignmentsAlarm)
		s.assignAlarmScheduled = true
	}
}

// GetShortID returns any one short id assigned to hash (iteration order is
// unspecified — use GetShortIDs when determinism matters), or NullTxSID if
// hash is unknown.
func (s *Service) GetShortID(hash HashKey) uint32 {
	ids := s.GetShortIDs(hash)
	for id := range ids {
		return id
	}
	return config.NullTxSID
}

// GetShortIDs returns every short id currently assigned to hash, or the set
// {NullTxSID} if hash has no assignment.
func (s *Service) GetShortIDs(hash HashKey) map[uint32]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.hashToShortIDs[hash]
	if !ok {
		return map[uint32]struct{}{config.NullTxSID: {}}
	}
	out := make(map[uint32]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

// GetTransaction looks up a single short id's hash and contents. Either field
// may be independently absent.
func (s *Service) GetTransaction(shortID uint32) TransactionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.shortIDToHash[shortID]
	if !ok {
		return TransactionInfo{ShortID: shortID}
	}
	contents, hasContents := s.hashToContents[hash]
	info := TransactionInfo{Hash: hash, HasHash: true, ShortID: shortID}
	if hasContents {
		info.Contents = contents
	}
	return info
}

// GetTransactions fetches transaction info for each requested short id,
// splitting the results into those found (hash and contents both present)
// and those missing.
func (s *Service) GetTransactions(shortIDs []uint32) (found, missing []TransactionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, shortID := range shortIDs {
		hash, ok := s.shortIDToHash[shortID]
		if !ok {
			s.log.Debug("short id requested but unknown", "short_id", shortID)
			missing = append(missing, TransactionInfo{ShortID: shortID})
			continue
		}
		contents, hasContents := s.hashToContents[hash]
		if hasContents {
			found = append(found, TransactionInfo{Hash: hash, HasHash: true, Contents: contents, ShortID: shortID})
		} else {
			missing = append(missing, TransactionInfo{ShortID: shortID})
		}
	}
	return found, missing
}

// GetMissingTransactions reports which of shortIDs are entirely unknown, and
// which are known short ids whose hash has no cached contents.
func (s *Service) GetMissingTransactions(shortIDs []uint32) (hasMissing bool, unknownSIDs []uint32, unknownContentsHashes []HashKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, shortID := range shortIDs {
		hash, ok := s.shortIDToHash[shortID]
		if !ok {
			unknownSIDs = append(unknownSIDs, shortID)
			hasMissing = true
			continue
		}
		if _, hasContents := s.hashToContents[hash]; !hasContents {
			unknownContentsHashes = append(unknownContentsHashes, hash)
			hasMissing = true
		}
	}
	return hasMissing, unknownSIDs, unknownContentsHashes
}

// TrackSeenShortIDs records a batch of short ids observed confirmed in a
// block. Once more than finalTxConfirmationsCount batches are pending, the
// oldest batch is popped and every short id in it is removed.
func (s *Service) TrackSeenShortIDs(shortIDs []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shortIDsSeenInBlock = append(s.shortIDsSeenInBlock, shortIDs)

	if len(s.shortIDsSeenInBlock) > s.finalTxConfirmationsCount {
		oldest := s.shortIDsSeenInBlock[0]
		s.shortIDsSeenInBlock = s.shortIDsSeenInBlock[1:]
		for _, shortID := range oldest {
			s.removeTransactionByShortIDLocked(shortID)
		}
	}
}

// ExpireOldAssignments pops the expiration queue's head while the head entry
// is older than sidExpireTime, removing each via the standard removal rule.
// It reschedules itself (by returning an alarm.Outcome) while the queue
// remains non-empty.
func (s *Service) expireOldAssignmentsAlarm(now time.Time) alarm.Outcome {
	s.mu.Lock()
	before := s.expireQueue.Len()
	s.expireQueue.RemoveExpired(now, s.removeTransactionByShortIDLocked)
	after := s.expireQueue.Len()
	remaining := after
	s.mu.Unlock()

	s.log.Info("expired old short id assignments", "before", before, "after", after)

	if remaining > 0 {
		return alarm.Reschedule(s.sidExpireTime)
	}
	s.mu.Lock()
	s.assignAlarmScheduled = false
	s.mu.Unlock()
	return alarm.Cancel()
}

// ExpireOldAssignments is exported for callers (e.g. tests, or a node that
// wants to force a cleanup pass) that want to run the same logic
// synchronously rather than waiting for the registered alarm to fire.
func (s *Service) ExpireOldAssignments(now time.Time) {
	s.expireOldAssignmentsAlarm(now)
}

// removeTransactionByShortIDLocked implements spec.md §4.6's
// _remove_transaction_by_short_id. Callers must hold s.mu.
func (s *Service) removeTransactionByShortIDLocked(shortID uint32) {
	hash, ok := s.shortIDToHash[shortID]
	if !ok {
		return
	}
	delete(s.shortIDToHash, shortID)

	if ids, ok := s.hashToShortIDs[hash]; ok {
		delete(ids, shortID)
		if len(ids) == 0 {
			delete(s.hashToShortIDs, hash)
			if contents, ok := s.hashToContents[hash]; ok {
				s.totalContentsSize -= uint64(len(contents))
				delete(s.hashToContents, hash)
			}
		}
	}

	s.expireQueue.Remove(shortID)

	if s.dumpRemoved != nil {
		io.WriteString(s.dumpRemoved, hashKeyDumpLine(shortID, hash))
	}
}

func hashKeyDumpLine(shortID uint32, hash HashKey) string {
	return string(hash) + " " + uintToString(shortID) + "\n"
}

func uintToString(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// memoryLimitCleanUpLocked evicts oldest-by-expiration-queue entries until
// total_tx_contents_size is back at or under the configured limit. Callers
// must hold s.mu.
func (s *Service) memoryLimitCleanUpLocked() {
	if s.totalContentsSize <= s.memoryLimit {
		return
	}

	before := s.totalContentsSize
	removed := 0
	for s.totalContentsSize > s.memoryLimit {
		_, ok := s.expireQueue.RemoveOldest(s.removeTransactionByShortIDLocked)
		if !ok {
			break // nothing left to evict; cap exceeded by a single oversized entry
		}
		removed++
	}
	s.totalRemovedByMemory += uint64(removed)
	s.log.Debug("evicted transactions over memory limit", "removed", removed, "before_bytes", before, "after_bytes", s.totalContentsSize)
}

// Stats is the aggregate statistics snapshot spec.md §7 Observability
// describes flushing periodically.
type Stats struct {
	ShortIDMappingCount        int
	UniqueTransactionContent   int
	TotalTxContentsSize        uint64
	TransactionsRemovedByMemoryLimit uint64
}

// AggregateStats returns a point-in-time snapshot for the stats layer.
func (s *Service) AggregateStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ShortIDMappingCount:              len(s.shortIDToHash),
		UniqueTransactionContent:         len(s.hashToContents),
		TotalTxContentsSize:              s.totalContentsSize,
		TransactionsRemovedByMemoryLimit: s.totalRemovedByMemory,
	}
}

// TotalTxContentsSize exposes the running byte total directly, matching
// spec.md §8 property 3's invariant name for tests and stats alike.
func (s *Service) TotalTxContentsSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalContentsSize
}
