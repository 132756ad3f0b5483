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

import "testing"

func TestPeekMessageAcrossChunkBoundary(t *testing.T) {
	b := NewInputBuffer()
	b.AddBytes([]byte("AB"))
	b.AddBytes([]byte("CDE"))

	got, ok := b.PeekMessage(4)
	if !ok || string(got) != "ABCD" {
		t.Fatalf("expected ABCD, got %q ok=%v", got, ok)
	}
	// peek must not advance the cursor
	got2, ok := b.PeekMessage(4)
	if !ok || string(got2) != "ABCD" {
		t.Fatalf("second peek should return the same bytes, got %q ok=%v", got2, ok)
	}
}

func TestPeekMessageInsufficientBytes(t *testing.T) {
	b := NewInputBuffer()
	b.AddBytes([]byte("AB"))
	if _, ok := b.PeekMessage(5); ok {
		t.Fatalf("expected peek to fail with insufficient buffered bytes")
	}
}

func TestAdvanceConsumesAcrossChunks(t *testing.T) {
	b := NewInputBuffer()
	b.AddBytes([]byte("AB"))
	b.AddBytes([]byte("CDE"))
	b.Advance(3)

	got, ok := b.PeekMessage(2)
	if !ok || string(got) != "DE" {
		t.Fatalf("expected DE after advancing 3, got %q ok=%v", got, ok)
	}
	if b.Length() != 2 {
		t.Fatalf("expected 2 remaining bytes, got %d", b.Length())
	}
}
