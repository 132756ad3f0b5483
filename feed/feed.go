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

// Package feed implements the publish/subscribe layer of spec.md §4.7: named
// feeds parameterized by a raw-message type and a serialized-entry type,
// subscribers with boolean filter expressions, and field projection at
// delivery time.
//
// Filter expressions are evaluated with github.com/hashicorp/go-bexpr, the
// same boolean-expression library HashiCorp ships for Consul/Nomad's
// resource-filtering APIs: the fixed vocabulary spec.md §4.7 names
// (value, from, to, gas_price, method_id) with comparison and logical
// operators maps directly onto bexpr's struct-tag-driven selector syntax.
// bexpr parses an expression without resolving its selectors, so Subscribe
// also evaluates the expression once against a zero FilterState: a selector
// naming an unrecognized field fails that evaluation and the subscription is
// rejected. A selector that the zero-value evaluation skips through and/or
// short-circuiting is not checked at that point.
package feed

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-bexpr"
)

// FilterState is the record a filter expression is evaluated against,
// matching spec.md §4.7's fixed vocabulary. Fields are tagged for bexpr's
// reflective selector path.
type FilterState struct {
	Value    float64 `bexpr:"value"`
	From     string  `bexpr:"from"`
	To       string  `bexpr:"to"`
	GasPrice float64 `bexpr:"gas_price"`
	MethodID string  `bexpr:"method_id"`
}

// Sink receives one serialized entry per delivery, already projected to the
// subscriber's requested fields. Implementations must not block (spec.md §5):
// a slow consumer should buffer or drop internally, not stall the publish
// path.
type Sink[E any] interface {
	Deliver(entry E)
}

// Subscriber is one feed client: its identity, delivery sink, requested
// fields, and parsed filter expression (spec.md §3's Subscriber entity).
type Subscriber[E any] struct {
	ID                    string
	Fields                map[string]struct{}
	ExcludeFromBlockchain bool

	sink      Sink[E]
	evaluator *bexpr.Evaluator
	hasFilter bool
}

// Validate reports whether state satisfies the subscriber's filter
// expression. A subscriber with no filter matches everything.
func (s *Subscriber[E]) Validate(state FilterState) (bool, error) {
	if !s.hasFilter {
		return true, nil
	}
	return s.evaluator.Evaluate(state)
}

// SubscribeOptions are the per-subscription parameters spec.md §4.7
// describes validating against a per-feed recognized set.
//
// include_from_blockchain defaults to true (spec.md §4.7), so the zero value
// of this struct must still accept blockchain-sourced items; it is therefore
// represented here as its negation, ExcludeFromBlockchain, whose zero value
// (false) is the documented default.
type SubscribeOptions struct {
	Fields                []string
	Filters               string
	ExcludeFromBlockchain bool
}

// Raw is the minimal contract a feed's raw message type must satisfy: the
// feed needs to know whether an item came off the wire from the blockchain
// node itself, to support the "include_from_blockchain" subscriber opt-out
// (spec.md §4.7, grounded on eth_new_transaction_feed.py's FeedSource gate),
// and a stable key to de-dup repeated publishes of the same item (e.g. a
// transaction seen once from the blockchain node and again moments later
// relayed from a peer).
type Raw interface {
	FromBlockchainSocket() bool
	DedupKey() string
}

// Feed is a named publish endpoint, parameterized by a raw-message type R and
// a serialized-entry type E, per spec.md §3.
type Feed[R Raw, E any] struct {
	Name       string
	NetworkNum int32

	// Serialize converts a raw message into its wire-level entry shape.
	Serialize func(raw R) E

	// ExtractFilterState derives the FilterState a published raw message is
	// evaluated against, from the already-serialized entry.
	ExtractFilterState func(entry E) FilterState

	// Project narrows entry down to only the requested fields, or returns it
	// unchanged if fields is empty (meaning "all fields").
	Project func(entry E, fields map[string]struct{}) E

	mu          sync.Mutex
	subscribers map[string]*Subscriber[E]
	dedup       *PublishDedup
}

// New constructs an empty feed.
func New[R Raw, E any](name string, networkNum int32, serialize func(R) E, extractFilterState func(E) FilterState, project func(E, map[string]struct{}) E) *Feed[R, E] {
	return &Feed[R, E]{
		Name:                name,
		NetworkNum:          networkNum,
		Serialize:           serialize,
		ExtractFilterState:  extractFilterState,
		Project:             project,
		subscribers:         make(map[string]*Subscriber[E]),
	}
}

// Subscribe registers a new subscriber, parsing its filter expression (if
// any) against FilterState up front so a malformed expression is rejected at
// subscribe time rather than on every publish.
func (f *Feed[R, E]) Subscribe(sink Sink[E], opts SubscribeOptions) (*Subscriber[E], error) {
	sub := &Subscriber[E]{
		ID:                    uuid.NewString(),
		Fields:                toFieldSet(opts.Fields),
		ExcludeFromBlockchain: opts.ExcludeFromBlockchain,
		sink:                  sink,
	}

	if opts.Filters != "" {
		evaluator, err := bexpr.CreateEvaluator(opts.Filters)
		if err != nil {
			return nil, err
		}
		if _, err := evaluator.Evaluate(FilterState{}); err != nil {
			return nil, err
		}
		sub.evaluator = evaluator
		sub.hasFilter = true
	}

	f.mu.Lock()
	f.subscribers[sub.ID] = sub
	f.mu.Unlock()

	return sub, nil
}

// EnablePublishDedup installs a publish-side de-dup cache: a Publish call
// whose raw.DedupKey() was already seen short-circuits before the
// any-subscribers-interested check and the per-subscriber filter pass
// (spec.md §4.7), matching DefaultPublishDedupCacheBytes-gated behavior
// described in SPEC_FULL.md. Not every feed needs this — it's opt-in so a
// feed whose raw items are never re-published under the same key (and
// tests that deliberately republish one key with different contents to
// exercise the filter) are unaffected.
func (f *Feed[R, E]) EnablePublishDedup(d *PublishDedup) {
	f.mu.Lock()
	f.dedup = d
	f.mu.Unlock()
}

// Unsubscribe removes a subscriber by id.
func (f *Feed[R, E]) Unsubscribe(id string) {
	f.mu.Lock()
	delete(f.subscribers, id)
	f.mu.Unlock()
}

// SubscriberCount reports the number of active subscribers.
func (f *Feed[R, E]) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// AnySubscribersWantItem implements spec.md §4.7's any_subscribers_want_item
// short-circuit: if raw came off the blockchain socket directly, at least one
// subscriber must have opted in to blockchain-sourced items; otherwise every
// feed item is a candidate.
func (f *Feed[R, E]) AnySubscribersWantItem(raw R) bool {
	if !raw.FromBlockchainSocket() {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subscribers {
		if !sub.ExcludeFromBlockchain {
			return true
		}
	}
	return false
}

// ShouldPublishMessageToSubscriber implements spec.md §4.7's per-subscriber
// gate: the source-kind opt-out first, then the filter expression over the
// derived FilterState.
func (f *Feed[R, E]) ShouldPublishMessageToSubscriber(sub *Subscriber[E], raw R, entry E) bool {
	if raw.FromBlockchainSocket() && sub.ExcludeFromBlockchain {
		return false
	}
	ok, err := sub.Validate(f.ExtractFilterState(entry))
	if err != nil {
		return false
	}
	return ok
}

// Publish serializes raw once (if any subscriber could possibly want it) and
// delivers the projected entry to every subscriber whose gate and filter
// both pass. If a publish-side de-dup cache is enabled (EnablePublishDedup)
// and raw's key was already seen, Publish returns immediately without
// consulting subscribers at all.
func (f *Feed[R, E]) Publish(raw R) {
	f.mu.Lock()
	dedup := f.dedup
	f.mu.Unlock()
	if dedup != nil && dedup.SeenBefore(raw.DedupKey()) {
		return
	}

	if !f.AnySubscribersWantItem(raw) {
		return
	}

	entry := f.Serialize(raw)

	f.mu.Lock()
	subs := make([]*Subscriber[E], 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		if !f.ShouldPublishMessageToSubscriber(sub, raw, entry) {
			continue
		}
		projected := entry
		if f.Project != nil {
			projected = f.Project(entry, sub.Fields)
		}
		sub.sink.Deliver(projected)
	}
}

func toFieldSet(fields []string) map[string]struct{} {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		out[field] = struct{}{}
	}
	return out
}
