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

// Package expirequeue implements the insertion-ordered FIFO of
// spec.md §3/§4's expiration queue: items tagged with their enqueue time,
// supporting both TTL-based eviction and unconditional oldest-first
// eviction. The transaction service (§4.6) uses one instance per network to
// drive both sid expiry and memory-cap eviction from the same structure.
package expirequeue

import (
	"container/list"
	"time"
)

type entry[T comparable] struct {
	item      T
	enqueued  time.Time
}

// Queue is a FIFO of (item, enqueue-time) pairs. Appends are O(1); lookup of
// an arbitrary item for random removal is O(1) via an index into the backing
// list.
type Queue[T comparable] struct {
	ttl     time.Duration
	order   *list.List
	byValue map[T]*list.Element
}

// New returns an empty queue whose TTL-based removals (RemoveExpired) use
// ttl as the expiry window.
func New[T comparable](ttl time.Duration) *Queue[T] {
	return &Queue[T]{
		ttl:     ttl,
		order:   list.New(),
		byValue: make(map[T]*list.Element),
	}
}

// Add appends item to the tail with the current time as its enqueue
// timestamp. If item is already present, its old position and timestamp are
// replaced with a fresh tail entry (bxcommon's ExpirationQueue.add semantics:
// duplicate adds re-anchor the TTL).
func (q *Queue[T]) Add(item T) {
	q.addAt(item, time.Now())
}

func (q *Queue[T]) addAt(item T, now time.Time) {
	if el, ok := q.byValue[item]; ok {
		q.order.Remove(el)
	}
	el := q.order.PushBack(entry[T]{item: item, enqueued: now})
	q.byValue[item] = el
}

// Len reports the number of items currently queued.
func (q *Queue[T]) Len() int { return q.order.Len() }

// Contains reports whether item is currently queued.
func (q *Queue[T]) Contains(item T) bool {
	_, ok := q.byValue[item]
	return ok
}

// Remove deletes item from the queue regardless of position. It is a no-op
// if item is not present, matching the source's tolerant remove().
func (q *Queue[T]) Remove(item T) {
	el, ok := q.byValue[item]
	if !ok {
		return
	}
	q.order.Remove(el)
	delete(q.byValue, item)
}

// GetOldest returns the head item without removing it.
func (q *Queue[T]) GetOldest() (item T, ok bool) {
	front := q.order.Front()
	if front == nil {
		return item, false
	}
	return front.Value.(entry[T]).item, true
}

// GetOldestItemTimestamp returns the enqueue time of the head item.
func (q *Queue[T]) GetOldestItemTimestamp() (time.Time, bool) {
	front := q.order.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(entry[T]).enqueued, true
}

// RemoveOldest unconditionally pops the head item and invokes remove for it,
// used by memory-cap eviction (spec.md §4.6's _memory_limit_clean_up).
func (q *Queue[T]) RemoveOldest(remove func(T)) (item T, ok bool) {
	front := q.order.Front()
	if front == nil {
		return item, false
	}
	e := front.Value.(entry[T])
	q.order.Remove(front)
	delete(q.byValue, e.item)
	if remove != nil {
		remove(e.item)
	}
	return e.item, true
}

// RemoveExpired pops from the head while head.enqueued+ttl <= now, invoking
// remove for each popped item. It stops at the first non-expired head,
// preserving FIFO order.
func (q *Queue[T]) RemoveExpired(now time.Time, remove func(T)) {
	for {
		front := q.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(entry[T])
		if e.enqueued.Add(q.ttl).After(now) {
			return
		}
		q.order.Remove(front)
		delete(q.byValue, e.item)
		if remove != nil {
			remove(e.item)
		}
	}
}
