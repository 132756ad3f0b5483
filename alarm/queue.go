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

// Package alarm implements the node runtime's timer queue: a min-heap of
// scheduled callbacks ordered by fire time, described in spec.md §4.1.
package alarm

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sasha00123/bxcommon/internal/blog"
)

// DefaultSleepTimeout is returned by FireReadyAlarms when the queue is empty, so an
// event loop polling this package never busy-spins.
const DefaultSleepTimeout = 30 * time.Second

// Outcome is what an alarm callback returns to say whether it should run
// again. It replaces the source implementation's magic numbers (0, a
// CANCEL_ALARMS sentinel, or a positive reschedule delay) with an explicit
// sum type per spec.md §9.
type Outcome struct {
	reschedule bool
	after      time.Duration
}

// Reschedule asks the queue to invoke the same callback again after d.
func Reschedule(d time.Duration) Outcome { return Outcome{reschedule: true, after: d} }

// Cancel asks the queue to drop the callback; it will not fire again unless
// re-registered.
func Cancel() Outcome { return Outcome{} }

// Callback is a scheduled unit of work. now is the monotonic time at which it
// is actually invoked (which may run later than the requested fire time if
// the loop was busy).
type Callback func(now time.Time) Outcome

// Handle identifies a registered alarm for cancellation or coalescing.
type Handle uint64

type alarmItem struct {
	fireTime time.Time
	seq       uint64
	handle    Handle
	callback  Callback
	canceled  bool
	approx    bool // registered through RegisterApproxAlarm; eligible for coalescing
	index     int // heap index, maintained by container/heap
}

// Queue is a min-heap of alarmItem by fire time, tie-broken by registration
// order (the uniqueness counter from spec.md §3).
type Queue struct {
	mu      sync.Mutex
	items   alarmHeap
	nextSeq uint64
	byHandle map[Handle]*alarmItem
}

// New returns an empty alarm queue.
func New() *Queue {
	return &Queue{byHandle: make(map[Handle]*alarmItem)}
}

// RegisterAlarm schedules cb to fire once, delay from now. It returns a
// Handle that Cancel can use to remove it before it fires.
func (q *Queue) RegisterAlarm(delay time.Duration, cb Callback) Handle {
	return q.registerAt(time.Now().Add(delay), cb)
}

func (q *Queue) registerAt(fireTime time.Time, cb Callback) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	item := &alarmItem{
		fireTime: fireTime,
		seq:      q.nextSeq,
		handle:   Handle(q.nextSeq),
		callback: cb,
	}
	heap.Push(&q.items, item)
	q.byHandle[item.handle] = item
	return item.handle
}

// RegisterApproxAlarm schedules cb coalescable with another pending alarm
// already within slack of the requested fire time. Only alarms registered
// through this method participate in coalescing, matching
// register_approx_alarm's intended use for batching periodic housekeeping
// (spec.md §4.1); ordinary RegisterAlarm calls never merge.
func (q *Queue) RegisterApproxAlarm(delay, slack time.Duration, cb Callback) Handle {
	fireTime := time.Now().Add(delay)

	q.mu.Lock()
	for _, it := range q.items {
		if it.canceled || !it.approx {
			continue
		}
		diff := it.fireTime.Sub(fireTime)
		if diff < 0 {
			diff = -diff
		}
		if diff <= slack {
			q.mu.Unlock()
			return it.handle
		}
	}
	q.mu.Unlock()

	h := q.registerAt(fireTime, cb)
	q.markApprox(h)
	return h
}

func (q *Queue) markApprox(h Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.byHandle[h]; ok {
		item.approx = true
	}
}

// Cancel removes a pending alarm. It is a no-op if the alarm already fired or
// was never registered.
func (q *Queue) Cancel(h Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.byHandle[h]; ok {
		item.canceled = true
		delete(q.byHandle, h)
	}
}

// TimeToNextAlarm reports whether any alarm is pending and, if so, the delay
// until it fires (which may be negative if already overdue).
func (q *Queue) TimeToNextAlarm() (hasAlarm bool, seconds time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.dropCanceledLocked()
	if len(q.items) == 0 {
		return false, 0
	}
	return true, time.Until(q.items[0].fireTime)
}

// FireReadyAlarms invokes, in fire-time order, every callback whose fire time
// is at or before now. A callback that returns Reschedule(d) is re-inserted
// with fire time now+d; Cancel drops it. It returns the delay to the next
// pending alarm afterward, or DefaultSleepTimeout if none remain.
//
// Callbacks registered by a callback running in this drain are not
// considered in the same pass: they are visited only on the next call, per
// spec.md §4.1's edge case.
func (q *Queue) FireReadyAlarms(now time.Time) time.Duration {
	var ready []*alarmItem

	q.mu.Lock()
	for len(q.items) > 0 && !q.items[0].fireTime.After(now) {
		item := heap.Pop(&q.items).(*alarmItem)
		delete(q.byHandle, item.handle)
		if item.canceled {
			continue
		}
		ready = append(ready, item)
	}
	q.mu.Unlock()

	for _, item := range ready {
		q.invoke(item, now)
	}

	hasAlarm, next := q.TimeToNextAlarm()
	if !hasAlarm {
		return DefaultSleepTimeout
	}
	return next
}

func (q *Queue) invoke(item *alarmItem, now time.Time) {
	outcome := q.safeInvoke(item, now)
	if !outcome.reschedule {
		return
	}
	h := q.registerAt(now.Add(outcome.after), item.callback)
	if item.approx {
		q.markApprox(h)
	}
}

// safeInvoke recovers from a panicking callback: exceptions from callbacks
// are logged and must not abort the drain (spec.md §4.1).
func (q *Queue) safeInvoke(item *alarmItem, now time.Time) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			blog.Root().Error("alarm callback panicked", "handle", item.handle, "panic", r)
			outcome = Cancel()
		}
	}()
	return item.callback(now)
}

func (q *Queue) dropCanceledLocked() {
	for len(q.items) > 0 && q.items[0].canceled {
		item := heap.Pop(&q.items).(*alarmItem)
		delete(q.byHandle, item.handle)
	}
}

// alarmHeap implements container/heap.Interface over a min-heap of alarmItem
// pointers, ordered by fire time then sequence number.
type alarmHeap []*alarmItem

func (h alarmHeap) Len() int { return len(h) }

func (h alarmHeap) Less(i, j int) bool {
	if h[i].fireTime.Equal(h[j].fireTime) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireTime.Before(h[j].fireTime)
}

func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *alarmHeap) Push(x any) {
	item := x.(*alarmItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
