package callstore

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"sipwatch.dev/sipwatch/internal/dissect/sipmsg"
	"sipwatch.dev/sipwatch/internal/packet"
)

// Config controls Storage's ingestion and eviction policy (spec.md §4.C13).
type Config struct {
	MemoryLimitBytes   int64 // 0 = unbounded
	CaptureDialogsOnly bool  // ignore non-INVITE Call-IDs on first sight
	MatchExpression    string
	MatchInvert        bool
	MatchCompleteOnly  bool // not applied at ingest, and no filter in this module reads it
}

// Stats is the storage-wide counter triple of spec.md §3 ("Storage stats").
type Stats struct {
	Total          int
	Displayed      int
	MemoryBytesUsed int64
}

// approxCallOverhead estimates the fixed bookkeeping cost of a Call
// separately from its messages, so an empty call isn't free in the tally.
const approxCallOverhead = 256

// Store is the global indexed collection of calls: a single RWMutex
// guarding a primary call_id→*Call map (order-preserving via a parallel
// insertion-order slice) plus the running memory tally, generalized from
// the teacher's BatchBuffer/Limiter size-capped-buffer idiom
// (internal/otus/module/buffer) into a size-limited call index (spec.md
// §4.C13, §5's single-storage-lock concurrency model).
type Store struct {
	mu    sync.RWMutex
	calls map[string]*Call
	order []string // insertion order, for the default sort

	// xrefs is the secondary index of spec.md §4.C13 ("secondary index of
	// matching dialog identifiers for fast transfer linkage"): xrefs[id]
	// holds every call-id that has referenced id via Replaces/Refer-To/
	// Referred-By, whether or not id has been seen yet. It lets Ingest
	// establish the reciprocal XCalls link on whichever side of a transfer
	// arrives second.
	xrefs map[string]map[string]struct{}

	cfg       Config
	matchRE   *regexp.Regexp
	memUsed   int64
	generation uint64

	// Observer hooks (spec.md §4.C15), invoked outside the lock after the
	// mutation that produced them: onCallAdded/onCallChanged fire once per
	// Ingest (never both), onCallsCleared fires once per Clear/ClearSoft.
	// The hub forwards each one to every Subscription, coalescing
	// "changed" under backpressure rather than blocking this goroutine.
	onCallAdded    func(*Call)
	onCallChanged  func(*Call)
	onCallsCleared func()
}

// NewStore creates an empty Store under cfg.
func NewStore(cfg Config) *Store {
	s := &Store{
		calls: make(map[string]*Call),
		xrefs: make(map[string]map[string]struct{}),
		cfg:   cfg,
	}
	if cfg.MatchExpression != "" {
		if re, err := regexp.Compile(cfg.MatchExpression); err == nil {
			s.matchRE = re
		}
	}
	return s
}

// SetObserverHooks registers the callbacks the observer Hub uses to learn
// about structural changes. Intended to be wired once, at construction.
func (s *Store) SetObserverHooks(added func(*Call), changed func(*Call), cleared func()) {
	s.mu.Lock()
	s.onCallAdded = added
	s.onCallChanged = changed
	s.onCallsCleared = cleared
	s.mu.Unlock()
}

// Ingest runs the ingestion protocol of spec.md §4.C13 steps 1-5 for one
// dissected SIP packet. It is the only mutating entry point the capture
// manager's worker calls. It reports whether the packet was attached to a
// Call (and so is now owned by storage). The caller must Destroy pkt
// itself when Ingest returns false, per spec.md §3's packet ownership
// transfer rule.
func (s *Store) Ingest(pkt *packet.Packet) bool {
	data, ok := pkt.Get(packet.ProtocolSIP)
	if !ok {
		return false
	}
	msg, ok := data.(*sipmsg.Message)
	if !ok || msg.CallID == "" {
		return false
	}

	if s.matchRE != nil {
		matched := s.matchRE.Match(msg.Raw)
		if matched == s.cfg.MatchInvert {
			return false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	call, exists := s.calls[msg.CallID]
	if !exists {
		if s.cfg.CaptureDialogsOnly && !(msg.IsRequest && msg.Method == "INVITE") {
			return false
		}
		call = NewCall(msg.CallID, pkt.Wall)
		s.calls[msg.CallID] = call
		s.order = append(s.order, msg.CallID)
	}

	newRefs := call.Append(pkt.Wall, msg, pkt)
	for _, refID := range newRefs {
		s.linkXRefLocked(msg.CallID, refID)
	}
	// Backfill: calls that referenced this Call-ID before it existed (or
	// before this message arrived) get the reciprocal link now.
	for referrer := range s.xrefs[msg.CallID] {
		call.XCalls[referrer] = struct{}{}
	}

	s.memUsed += estimateMessageSize(msg)
	if !exists {
		s.memUsed += approxCallOverhead
	}

	if s.cfg.MemoryLimitBytes > 0 && s.memUsed > s.cfg.MemoryLimitBytes {
		s.evictUntilUnderLimit()
	}

	s.generation++
	if !exists {
		if cb := s.onCallAdded; cb != nil {
			go cb(call)
		}
	} else if cb := s.onCallChanged; cb != nil {
		go cb(call)
	}
	return true
}

// linkXRefLocked records that fromID references toID (spec.md §4.C12:
// "calls["b@x"].xcalls contains a@x and vice versa") and, if toID already
// has a Call, adds the reciprocal link immediately. Must be called with
// s.mu held.
func (s *Store) linkXRefLocked(fromID, toID string) {
	set, ok := s.xrefs[toID]
	if !ok {
		set = make(map[string]struct{})
		s.xrefs[toID] = set
	}
	set[fromID] = struct{}{}

	if toCall, ok := s.calls[toID]; ok {
		toCall.XCalls[fromID] = struct{}{}
	}
}

func estimateMessageSize(msg *sipmsg.Message) int64 {
	return int64(len(msg.Raw)) + 128 // header/struct bookkeeping overhead
}

// evictUntilUnderLimit drops terminal calls oldest-completion-first until
// memory usage is back under the configured limit (spec.md §4.C13 step 4).
// Must be called with s.mu held.
func (s *Store) evictUntilUnderLimit() {
	type candidate struct {
		id          string
		completedAt time.Time
	}
	var terminal []candidate
	for _, id := range s.order {
		c := s.calls[id]
		if c.State.IsTerminal() {
			terminal = append(terminal, candidate{id: id, completedAt: c.CompletedAt})
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].completedAt.Before(terminal[j].completedAt)
	})

	for _, cand := range terminal {
		if s.memUsed <= s.cfg.MemoryLimitBytes {
			return
		}
		s.removeLocked(cand.id)
	}
}

func (s *Store) removeLocked(callID string) {
	call, ok := s.calls[callID]
	if !ok {
		return
	}
	for _, m := range call.Messages {
		s.memUsed -= estimateMessageSize(m.Msg)
		if m.Pkt != nil {
			m.Pkt.Destroy()
		}
	}
	s.memUsed -= approxCallOverhead
	delete(s.calls, callID)
	delete(s.xrefs, callID)
	for i, id := range s.order {
		if id == callID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns a call by id, if present.
func (s *Store) Get(callID string) (*Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	return c, ok
}

// SortOption picks the attribute and direction for Snapshot's ordering
// (spec.md §4.C13: "Sort options: by: attribute, asc: bool").
type SortOption struct {
	By  string // "created", "call_id", or "state"
	Asc bool
}

// Snapshot returns every call (optionally filtered by pred) in the
// requested order. The returned slice and its Call pointers must be
// treated as read-only by the caller, it is a live view of storage's
// calls, not a deep copy, matching spec.md §5's "cloned arrays of call
// handles" (the array is cloned; the Calls themselves are shared,
// consistent with them only being mutated by the single worker).
func (s *Store) Snapshot(sortBy SortOption, pred func(*Call) bool) []*Call {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Call, 0, len(s.order))
	for _, id := range s.order {
		c := s.calls[id]
		if pred == nil || pred(c) {
			out = append(out, c)
		}
	}

	less := func(i, j int) bool {
		switch sortBy.By {
		case "call_id":
			return out[i].CallID < out[j].CallID
		case "state":
			return out[i].State < out[j].State
		default:
			return out[i].Created.Before(out[j].Created)
		}
	}
	if sortBy.Asc {
		sort.SliceStable(out, less)
	} else {
		sort.SliceStable(out, func(i, j int) bool { return less(j, i) })
	}
	return out
}

// Stats returns the current storage-wide counters. displayedPred, if
// non-nil, is applied to compute Displayed; otherwise Displayed == Total.
func (s *Store) Stats(displayedPred func(*Call) bool) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	displayed := len(s.calls)
	if displayedPred != nil {
		displayed = 0
		for _, c := range s.calls {
			if displayedPred(c) {
				displayed++
			}
		}
	}
	return Stats{Total: len(s.calls), Displayed: displayed, MemoryBytesUsed: s.memUsed}
}

// Clear empties the store entirely (spec.md §4.C13 "calls_clear").
func (s *Store) Clear() {
	s.mu.Lock()
	for _, id := range s.order {
		s.removeLocked(id)
	}
	s.generation++
	cb := s.onCallsCleared
	s.mu.Unlock()
	if cb != nil {
		go cb()
	}
}

// ClearSoft retains only calls matching keep, discarding the rest (spec.md
// §4.C13 "calls_clear_soft: retains calls currently matching the active
// display filter").
func (s *Store) ClearSoft(keep func(*Call) bool) {
	s.mu.Lock()
	for _, id := range append([]string(nil), s.order...) {
		if !keep(s.calls[id]) {
			s.removeLocked(id)
		}
	}
	s.generation++
	cb := s.onCallsCleared
	s.mu.Unlock()
	if cb != nil {
		go cb()
	}
}

// SetMemoryLimit adjusts the eviction threshold, evicting immediately if
// the store is already over the new limit.
func (s *Store) SetMemoryLimit(bytes int64) {
	s.mu.Lock()
	s.cfg.MemoryLimitBytes = bytes
	if bytes > 0 && s.memUsed > bytes {
		s.evictUntilUnderLimit()
	}
	s.mu.Unlock()
}

// Generation returns the current mutation counter, useful for consumers
// polling for change without subscribing.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}
