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

package expirequeue

import (
	"testing"
	"time"
)

func TestRemoveExpiredStopsAtFirstUnexpiredHead(t *testing.T) {
	q := New[int](10 * time.Second)
	base := time.Now()
	q.addAt(1, base)
	q.addAt(2, base.Add(5*time.Second))
	q.addAt(3, base.Add(50*time.Second))

	var removed []int
	q.RemoveExpired(base.Add(12*time.Second), func(v int) { removed = append(removed, v) })

	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("expected only item 1 expired, got %v", removed)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 remaining, got %d", q.Len())
	}
}

func TestRemoveOldestUnconditional(t *testing.T) {
	q := New[string](time.Hour)
	q.Add("a")
	q.Add("b")

	item, ok := q.RemoveOldest(nil)
	if !ok || item != "a" {
		t.Fatalf("expected to pop 'a', got %v ok=%v", item, ok)
	}
	if q.Contains("a") {
		t.Fatalf("removed item must not be contained")
	}
}

func TestRemoveArbitraryValue(t *testing.T) {
	q := New[int](time.Hour)
	q.Add(1)
	q.Add(2)
	q.Add(3)

	q.Remove(2)
	if q.Contains(2) {
		t.Fatalf("item 2 should have been removed")
	}
	if q.Len() != 2 {
		t.Fatalf("expected length 2, got %d", q.Len())
	}

	item, _ := q.GetOldest()
	if item != 1 {
		t.Fatalf("FIFO order should be preserved after random removal, got %v", item)
	}
}

func TestRemoveUnknownItemIsNoOp(t *testing.T) {
	q := New[int](time.Hour)
	q.Add(1)
	q.Remove(999)
	if q.Len() != 1 {
		t.Fatalf("removing an absent item must not affect the queue")
	}
}

func TestReAddMovesItemToTailAndResetsTTL(t *testing.T) {
	q := New[int](5 * time.Second)
	base := time.Now()
	q.addAt(1, base)
	q.addAt(2, base.Add(time.Second))
	q.addAt(1, base.Add(2*time.Second))

	var removed []int
	q.RemoveExpired(base.Add(6*time.Second), func(v int) { removed = append(removed, v) })
	if len(removed) != 1 || removed[0] != 2 {
		t.Fatalf("expected only item 2 to have expired after re-add reset item 1's TTL, got %v", removed)
	}
}
