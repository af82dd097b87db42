// Package observer implements the external-consumer-facing API of
// spec.md §6 ("Observer API"): snapshots, change subscriptions, stats,
// and sort/filter/memory-limit control. The capture manager's control
// surface (pause, BPF filter, inputs/outputs) is not wrapped here; it is
// reached through capture.Manager itself.
//
// Grounded on the teacher's internal/eventbus (bus.go's partitioned,
// non-blocking-publish InMemoryEventBus) reworked from a topic/partition
// pub-sub into the bounded, per-subscriber, coalescing-on-backpressure
// channel spec.md §5 calls for ("slow observers get dropped notifications
// with a coalesced changed signal rather than back-pressuring the
// worker").
package observer

import (
	"sync"

	"sipwatch.dev/sipwatch/internal/attr"
	"sipwatch.dev/sipwatch/internal/callfilter"
	"sipwatch.dev/sipwatch/internal/callstore"
)

// Observer receives change notifications from a Hub (spec.md §6:
// "subscribe(observer) → subscription with callbacks on_call_added,
// on_call_changed, on_calls_cleared").
type Observer interface {
	OnCallAdded(call *callstore.Call)
	OnCallChanged(call *callstore.Call)
	OnCallsCleared()
}

// InputFailureObserver is an optional extension an Observer may also
// implement to learn about capture input failures, surfaced through the
// same subscription rather than a second channel.
type InputFailureObserver interface {
	OnInputFailed(name string, err error)
}

// CallHandle is the read-only view of a call returned by Snapshot (spec.md
// §6: "snapshot() → list<CallHandle>"). It is the same shared *Call the
// single capture worker mutates (see callstore.Store.Snapshot's doc
// comment). Callers must not mutate it.
type CallHandle = *callstore.Call

// Stats mirrors callstore.Stats for the observer-facing get_stats() call.
type Stats = callstore.Stats

// Hub is the facade external consumers (a UI, a save-to-file collaborator,
// a test harness) use instead of touching callstore.Store directly. It
// owns the current sort/filter/memory-limit settings and fans out
// Store's structural-change hooks to every Subscription.
type Hub struct {
	mu     sync.Mutex
	store  *callstore.Store
	subs   map[uint64]*Subscription
	nextID uint64

	sort   callstore.SortOption
	filter *callfilter.Filter
	attrs  *attr.Registry
}

// NewHub creates a Hub over store, wiring store's observer hooks to the
// hub's fan-out (spec.md §4.C15). Hub has no Close of its own; each
// Subscription is stopped with its own Close.
func NewHub(store *callstore.Store) *Hub {
	h := &Hub{
		store: store,
		subs:  make(map[uint64]*Subscription),
		attrs: callstore.DisplayAttributes(),
	}
	store.SetObserverHooks(h.fanOutAdded, h.fanOutChanged, h.fanOutCleared)
	return h
}

// Attributes returns the named, displayable Call fields (spec.md §4.C2:
// "Named extractable fields on messages (title, color, length)") a
// consumer can render as columns or pass to SetSort.
func (h *Hub) Attributes() *attr.Registry {
	return h.attrs
}

// FormatAttribute extracts and renders name off call, per spec.md §4.C2.
func (h *Hub) FormatAttribute(name string, call CallHandle) (string, bool) {
	return callstore.FormatAttribute(h.attrs, name, call)
}

func (h *Hub) fanOutAdded(call *callstore.Call) {
	for _, sub := range h.subsSnapshot() {
		sub.notifyAdded(call)
	}
}

func (h *Hub) fanOutChanged(call *callstore.Call) {
	for _, sub := range h.subsSnapshot() {
		sub.notifyChanged(call)
	}
}

func (h *Hub) fanOutCleared() {
	for _, sub := range h.subsSnapshot() {
		sub.notifyCleared()
	}
}

// NotifyInputFailed fans an input failure out to every subscription that
// implements InputFailureObserver. Wire this as capture.Manager's
// OnInputFailed hook.
func (h *Hub) NotifyInputFailed(name string, err error) {
	for _, sub := range h.subsSnapshot() {
		sub.notifyInputFailed(name, err)
	}
}

func (h *Hub) subsSnapshot() []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

// Snapshot returns every call currently matching the hub's active filter,
// in the hub's active sort order (spec.md §6: "snapshot() → list<CallHandle>").
func (h *Hub) Snapshot() []CallHandle {
	h.mu.Lock()
	sortBy, filter := h.sort, h.filter
	h.mu.Unlock()
	return h.store.Snapshot(sortBy, h.matchPred(filter))
}

// GetStats returns (total, displayed, mem_bytes_used), where displayed
// honors the active filter (spec.md §6: "get_stats() → (total, displayed,
// mem_bytes)").
func (h *Hub) GetStats() Stats {
	h.mu.Lock()
	filter := h.filter
	h.mu.Unlock()
	return h.store.Stats(h.matchPred(filter))
}

func (h *Hub) matchPred(filter *callfilter.Filter) func(*callstore.Call) bool {
	if filter == nil {
		return nil
	}
	return filter.Match
}

// SetSort changes the attribute/direction Snapshot orders by (spec.md §6:
// "set_sort(attr, asc)").
func (h *Hub) SetSort(by string, asc bool) {
	h.mu.Lock()
	h.sort = callstore.SortOption{By: by, Asc: asc}
	h.mu.Unlock()
}

// SetFilter replaces the active display filter (spec.md §6:
// "set_filter(filter)"). A nil filter matches everything.
func (h *Hub) SetFilter(filter *callfilter.Filter) {
	h.mu.Lock()
	h.filter = filter
	h.mu.Unlock()
}

// SetMemoryLimit forwards to the underlying store (spec.md §6:
// "set_memory_limit(bytes)").
func (h *Hub) SetMemoryLimit(bytes int64) {
	h.store.SetMemoryLimit(bytes)
}

// Subscribe registers obs and starts the goroutine that delivers queued
// notifications to it (spec.md §6: "subscribe(observer) → subscription").
// Call the returned Subscription's Close to unsubscribe.
func (h *Hub) Subscribe(obs Observer) *Subscription {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	sub := newSubscription(id, h, obs)
	h.subs[id] = sub
	h.mu.Unlock()

	sub.run()
	return sub
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}
