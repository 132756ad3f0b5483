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

package feed

import (
	"github.com/gorilla/websocket"

	"github.com/sasha00123/bxcommon/internal/blog"
)

// WebsocketSink delivers feed entries as JSON text frames over a
// gorilla/websocket connection, the concrete delivery mechanism spec.md §6
// describes for RPC/feed subscribers. Writes happen directly on the caller's
// goroutine: per spec.md §5 the publish path runs on the node's single event
// loop thread, so there is no concurrent writer to race against.
type WebsocketSink[E any] struct {
	conn *websocket.Conn
	log  blog.Logger
}

// NewWebsocketSink wraps an already-upgraded websocket connection.
func NewWebsocketSink[E any](conn *websocket.Conn, log blog.Logger) *WebsocketSink[E] {
	return &WebsocketSink[E]{conn: conn, log: log}
}

// Deliver implements Sink.
func (s *WebsocketSink[E]) Deliver(entry E) {
	if err := s.conn.WriteJSON(entry); err != nil {
		s.log.Warn("feed subscriber write failed, closing", "err", err)
		s.conn.Close()
	}
}

// ChannelSink delivers entries onto a buffered Go channel, useful for
// in-process subscribers (tests, or an RPC layer that owns its own framing).
// A full channel drops the entry rather than blocking the publish path,
// matching spec.md §5's "no handler blocks" rule.
type ChannelSink[E any] struct {
	C chan E
}

// NewChannelSink returns a sink backed by a channel of the given capacity.
func NewChannelSink[E any](capacity int) *ChannelSink[E] {
	return &ChannelSink[E]{C: make(chan E, capacity)}
}

// Deliver implements Sink.
func (s *ChannelSink[E]) Deliver(entry E) {
	select {
	case s.C <- entry:
	default:
	}
}
