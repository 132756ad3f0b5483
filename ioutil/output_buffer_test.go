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
	"bytes"
	"testing"
)

func TestGetBufferOnEmptyErrors(t *testing.T) {
	b := NewOutputBuffer()
	if _, err := b.GetBuffer(); err != ErrBufferEmpty {
		t.Fatalf("expected ErrBufferEmpty, got %v", err)
	}
}

func TestOutputBufferRoundTrip(t *testing.T) {
	b := NewOutputBuffer()
	whole := []byte("hello world, this is a relayed transaction payload")
	b.EnqueueMsgBytes(whole[:10])
	b.EnqueueMsgBytes(whole[10:25])
	b.EnqueueMsgBytes(whole[25:])

	var out bytes.Buffer
	advances := []int{3, 4, 3, 15, 100}
	for _, n := range advances {
		buf, err := b.GetBuffer()
		if err != nil {
			break
		}
		if n > len(buf) {
			n = len(buf)
		}
		out.Write(buf[:n])
		b.AdvanceBuffer(n)
	}

	if !bytes.Equal(out.Bytes(), whole) {
		t.Fatalf("round trip mismatch:\nhave: %q\nwant: %q", out.Bytes(), whole)
	}
	if !b.Empty() {
		t.Fatalf("buffer should be drained")
	}
}

func TestPrependRespectsPartiallySentHead(t *testing.T) {
	b := NewOutputBuffer()
	b.EnqueueMsgBytes([]byte("AAAA"))
	b.EnqueueMsgBytes([]byte("BBBB"))
	b.AdvanceBuffer(2) // "AA" sent, "AA" in flight

	b.PrependMsg([]byte("XX"))

	buf, _ := b.GetBuffer()
	if string(buf) != "AA" {
		t.Fatalf("in-flight head must remain first, got %q", buf)
	}
	b.AdvanceBuffer(2)
	buf, _ = b.GetBuffer()
	if string(buf) != "XX" {
		t.Fatalf("prepended message must follow the in-flight head, got %q", buf)
	}
	b.AdvanceBuffer(2)
	buf, _ = b.GetBuffer()
	if string(buf) != "BBBB" {
		t.Fatalf("original queue order must resume after prepended message, got %q", buf)
	}
}

func TestPrependOnFreshHeadGoesFirst(t *testing.T) {
	b := NewOutputBuffer()
	b.EnqueueMsgBytes([]byte("BBBB"))
	b.PrependMsg([]byte("XX"))

	buf, _ := b.GetBuffer()
	if string(buf) != "XX" {
		t.Fatalf("expected prepended message first when head is untouched, got %q", buf)
	}
}

func TestOutputBufferLength(t *testing.T) {
	b := NewOutputBuffer()
	b.EnqueueMsgBytes([]byte("12345"))
	b.EnqueueMsgBytes([]byte("678"))
	b.AdvanceBuffer(2)
	if got := b.Length(); got != 6 {
		t.Fatalf("expected 6 remaining bytes, got %d", got)
	}
}
