package callfilter

import (
	"regexp"

	"sipwatch.dev/sipwatch/internal/callstore"
)

// node is one link of the filter chain, mirroring the teacher's
// FilterChain: each node holds one predicate and a pointer to the rest of
// the chain. Unlike the teacher's chain (which lets each filter decide
// whether to call the next link), a Filter is a pure conjunction, so
// Match just walks the links and stops at the first predicate that fails.
type node struct {
	pred Predicate
	next *node
}

// Filter is the conjunction of Predicates plus an optional payload regex
// (spec.md §4.C14). Built once by a display consumer and handed to
// callstore.Store.Snapshot/Stats as the predicate; it never mutates
// storage.
type Filter struct {
	chain        *node
	PayloadRegex *regexp.Regexp
}

// New builds a Filter evaluating every predicate in order, short-
// circuiting on the first one that fails, plus payload (nil to skip the
// payload check).
func New(payload *regexp.Regexp, predicates ...Predicate) *Filter {
	var head *node
	for i := len(predicates) - 1; i >= 0; i-- {
		head = &node{pred: predicates[i], next: head}
	}
	return &Filter{chain: head, PayloadRegex: payload}
}

// Match reports whether call satisfies every predicate and, if set, the
// payload regex against at least one of its messages' raw bytes. A nil
// Filter matches everything.
func (f *Filter) Match(call *callstore.Call) bool {
	if f == nil {
		return true
	}
	for n := f.chain; n != nil; n = n.next {
		if !n.pred.Match(call) {
			return false
		}
	}
	if f.PayloadRegex != nil {
		return f.matchPayload(call)
	}
	return true
}

func (f *Filter) matchPayload(call *callstore.Call) bool {
	for _, m := range call.Messages {
		if f.PayloadRegex.Match(m.Msg.Raw) {
			return true
		}
	}
	return false
}
