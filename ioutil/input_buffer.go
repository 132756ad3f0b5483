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

// InputBuffer is a deque of received byte slices with a logical read cursor.
// Peeking a span that is fully contained in the head slice is copy-free;
// peeking a span that crosses a slice boundary compacts the spanning slices
// into one on read, per spec.md §4.2.
type InputBuffer struct {
	chunks [][]byte
	index  int // read cursor into chunks[0]
}

// NewInputBuffer returns an empty input buffer.
func NewInputBuffer() *InputBuffer {
	return &InputBuffer{}
}

// AddBytes appends freshly-received bytes to the tail.
func (b *InputBuffer) AddBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	b.chunks = append(b.chunks, data)
}

// Length returns the number of unread bytes.
func (b *InputBuffer) Length() int {
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

// PeekMessage returns the next n unread bytes without advancing the cursor.
// It reports false if fewer than n bytes are currently buffered. When the
// span crosses a chunk boundary, the chunks are compacted into the head
// entry so later peeks of overlapping ranges don't redo the copy.
func (b *InputBuffer) PeekMessage(n int) ([]byte, bool) {
	if b.Length() < n {
		return nil, false
	}

	head := b.chunks[0][b.index:]
	if len(head) >= n {
		return head[:n], true
	}

	b.compact()
	head = b.chunks[0][b.index:]
	return head[:n], true
}

// Advance discards n bytes from the front of the unread stream.
func (b *InputBuffer) Advance(n int) {
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

// compact merges every buffered chunk into a single contiguous slice,
// preserving the current read cursor semantics (index becomes 0 against the
// new single chunk).
func (b *InputBuffer) compact() {
	total := b.Length()
	merged := make([]byte, 0, total)
	merged = append(merged, b.chunks[0][b.index:]...)
	for _, c := range b.chunks[1:] {
		merged = append(merged, c...)
	}
	b.chunks = [][]byte{merged}
	b.index = 0
}
