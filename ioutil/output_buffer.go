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

// Package ioutil holds the per-connection byte-buffer and message-tracker
// plumbing described in spec.md §4.2 and §4.8.
package ioutil

import "errors"

// ErrBufferEmpty is returned by GetBuffer when nothing is queued.
var ErrBufferEmpty = errors.New("ioutil: output buffer is empty")

// OutputBuffer is a deque of byte slices plus a cursor into the head slice
// counting bytes already handed to the kernel (spec.md §4.2).
type OutputBuffer struct {
	chunks [][]byte
	index  int // bytes of chunks[0] already sent
}

// NewOutputBuffer returns an empty output buffer.
func NewOutputBuffer() *OutputBuffer {
	return &OutputBuffer{}
}

// EnqueueMsgBytes appends msg to the tail of the buffer.
func (b *OutputBuffer) EnqueueMsgBytes(msg []byte) {
	if len(msg) == 0 {
		return
	}
	b.chunks = append(b.chunks, msg)
}

// PrependMsg inserts msg immediately after the partially-sent head chunk (if
// any), so an in-flight message's framing is preserved while the new message
// still jumps the rest of the queue (spec.md §4.2).
func (b *OutputBuffer) PrependMsg(msg []byte) {
	if len(msg) == 0 {
		return
	}
	if len(b.chunks) == 0 {
		b.chunks = [][]byte{msg}
		return
	}
	insertAt := 0
	if b.index > 0 {
		insertAt = 1
	}
	b.chunks = append(b.chunks, nil)
	copy(b.chunks[insertAt+1:], b.chunks[insertAt:])
	b.chunks[insertAt] = msg
}

// GetBuffer returns the unsent suffix of the head chunk. The caller must not
// mutate the returned slice. It is an error to call this on an empty buffer.
func (b *OutputBuffer) GetBuffer() ([]byte, error) {
	if len(b.chunks) == 0 {
		return nil, ErrBufferEmpty
	}
	return b.chunks[0][b.index:], nil
}

// Empty reports whether there is nothing left to send.
func (b *OutputBuffer) Empty() bool { return len(b.chunks) == 0 }

// Length returns the total number of unsent bytes across every queued chunk.
func (b *OutputBuffer) Length() int {
	total := 0
	for i, c := range b.chunks {
		if i == 0 {
			total += len(c) - b.index
		} else {
			total += len(c)
		}
	}
	return total
}

// AdvanceBuffer marks n more bytes of the head chunk as sent, popping it once
// fully consumed and carrying any surplus into the next chunk.
func (b *OutputBuffer) AdvanceBuffer(n int) {
	for n > 0 && len(b.chunks) > 0 {
		remaining := len(b.chunks[0]) - b.index
		if n < remaining {
			b.index += n
			return
		}
		n -= remaining
		b.chunks = b.chunks[1:]
		b.index = 0
	}
}
