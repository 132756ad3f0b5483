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

// Package wire holds the opaque boundary the core crosses to reach concrete
// wire codecs. spec.md §1 explicitly keeps message-codec and version-converter
// implementations external; the core only ever needs a byte buffer plus a log
// level and a raw-bytes accessor (spec.md §6).
package wire

import "log/slog"

// Message is the minimal contract the core needs from a concrete,
// protocol-specific message implementation living outside this module.
type Message interface {
	// LogLevel is the verbosity a send/receive of this message should be
	// logged at (e.g. a ping is Trace, a block is Info).
	LogLevel() slog.Level
	// RawBytes returns the fully-framed bytes ready to hand to a socket.
	RawBytes() []byte
}

// Frame is the (type, length, payload, checksum) wire layout spec.md §6
// describes. Concrete codecs elsewhere build and parse these; the core only
// ever sees the resulting byte buffer, but this type documents the framing
// contract the core assumes input buffers are aligned to.
type Frame struct {
	Type          string
	PayloadLength uint32
	Payload       []byte
	Checksum      uint32
}
