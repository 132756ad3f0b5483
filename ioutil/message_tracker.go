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

package ioutil

import (
	"container/list"
	"log/slog"
	"time"

	"github.com/sasha00123/bxcommon/internal/blog"
	"github.com/sasha00123/bxcommon/wire"
)

type trackedMessage struct {
	message    wire.Message // nil for anonymous byte spans
	length     int
	sentBytes  int
	queuedTime time.Time
}

func (m trackedMessage) logLevel() slog.Level {
	if m.message != nil {
		return m.message.LogLevel()
	}
	return blog.LevelInfo
}

// MessageTracker records send timing for every message appended to a
// connection's output buffer, for the observability described in spec.md
// §4.8. It mirrors OutputBuffer's own chunk/cursor bookkeeping but at
// message, not byte-chunk, granularity.
type MessageTracker struct {
	log      blog.Logger
	messages *list.List
}

// NewMessageTracker returns an empty tracker that logs completed sends
// through log (typically a connection-scoped logger from Logger.With).
func NewMessageTracker(log blog.Logger) *MessageTracker {
	return &MessageTracker{log: log, messages: list.New()}
}

// AppendMessage records that numBytes belonging to msg were just enqueued.
// msg may be nil for untracked byte spans (e.g. raw relayed bytes with no
// parsed representation).
func (t *MessageTracker) AppendMessage(numBytes int, msg wire.Message) {
	t.messages.PushBack(trackedMessage{message: msg, length: numBytes, queuedTime: time.Now()})
}

// PrependMessage inserts msg's entry immediately after the in-progress head
// entry (if any), matching OutputBuffer.PrependMsg's framing guarantee.
func (t *MessageTracker) PrependMessage(numBytes int, msg wire.Message) {
	entry := trackedMessage{message: msg, length: numBytes, queuedTime: time.Now()}

	front := t.messages.Front()
	if front != nil && front.Value.(trackedMessage).sentBytes != 0 {
		t.messages.InsertAfter(entry, front)
		return
	}
	t.messages.PushFront(entry)
}

// AdvanceBytes consumes n freshly-sent bytes from the head of the tracked
// queue, logging the end-to-end queue-to-socket latency of every message
// that becomes fully sent.
func (t *MessageTracker) AdvanceBytes(n int) {
	for n > 0 {
		front := t.messages.Front()
		if front == nil {
			return
		}
		entry := front.Value.(trackedMessage)
		remaining := entry.length - entry.sentBytes

		if n >= remaining {
			t.messages.Remove(front)
			n -= remaining
			latency := time.Since(entry.queuedTime)
			t.log.Info("message sent", "bytes", entry.length, "latency_ms", float64(latency.Microseconds())/1000.0)
			continue
		}

		entry.sentBytes += n
		front.Value = entry
		n = 0
	}
}

// Pending returns the number of messages still awaiting a completed send.
func (t *MessageTracker) Pending() int { return t.messages.Len() }
