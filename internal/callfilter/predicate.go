// Package callfilter implements the display-time filter engine (spec.md
// §4.C14): a conjunction of per-attribute predicates over a Call and its
// messages, plus an optional payload regex. Filters are evaluated lazily
// by display consumers (callstore.Store.Snapshot/Stats predicates) and
// never mutate storage state.
//
// Grounded on the teacher's internal/filter chain-of-responsibility
// (filter.go's Filter interface, chain.go's linked-list FilterChain),
// generalized from a single-purpose trace counter filter into an
// attribute predicate conjunction, and on plugins/filter/skywalking's
// per-field matcher style for the string/regex/range predicate kinds.
package callfilter

import (
	"regexp"
	"strconv"
	"strings"

	"sipwatch.dev/sipwatch/internal/callstore"
)

// Attribute names a filterable field on a Call or its messages (spec.md
// §4.C14: "predicate over call/message attributes").
type Attribute string

const (
	AttrCallID  Attribute = "call_id"
	AttrState   Attribute = "state"
	AttrMethod  Attribute = "method"
	AttrFrom    Attribute = "from"
	AttrTo      Attribute = "to"
	AttrAddress Attribute = "address"
	AttrCSeq    Attribute = "cseq"
)

// Predicate is one term of the conjunction (spec.md §4.C14: "string-
// equals, substring, regex, numeric range, method-set, call-state
// membership").
type Predicate interface {
	Match(call *callstore.Call) bool
}

// values resolves attr to every value observed across call's messages, so
// a predicate matches if any one of them satisfies it (a dialog typically
// carries the same From/To/CSeq-method across several messages).
func values(call *callstore.Call, attr Attribute) []string {
	switch attr {
	case AttrCallID:
		return []string{call.CallID}
	case AttrState:
		return []string{call.State.String()}
	case AttrMethod:
		out := make([]string, 0, len(call.Messages))
		for _, m := range call.Messages {
			if m.Msg.IsRequest {
				out = append(out, m.Msg.Method)
			}
		}
		return out
	case AttrFrom:
		return headerValues(call, "From")
	case AttrTo:
		return headerValues(call, "To")
	case AttrAddress:
		out := make([]string, 0, len(call.Addrs))
		for addr := range call.Addrs {
			out = append(out, addr.String())
		}
		return out
	case AttrCSeq:
		out := make([]string, 0, len(call.Messages))
		for _, m := range call.Messages {
			out = append(out, strconv.Itoa(m.Msg.CSeqNum))
		}
		return out
	default:
		return nil
	}
}

func headerValues(call *callstore.Call, name string) []string {
	var out []string
	for _, m := range call.Messages {
		out = append(out, m.Msg.Headers.All(name)...)
	}
	return out
}

// StringEquals matches when any value of Attr case-insensitively equals
// Value.
type StringEquals struct {
	Attr  Attribute
	Value string
}

func (p StringEquals) Match(call *callstore.Call) bool {
	for _, v := range values(call, p.Attr) {
		if strings.EqualFold(v, p.Value) {
			return true
		}
	}
	return false
}

// Substring matches when any value of Attr contains Value, case-insensitively.
type Substring struct {
	Attr  Attribute
	Value string
}

func (p Substring) Match(call *callstore.Call) bool {
	needle := strings.ToLower(p.Value)
	for _, v := range values(call, p.Attr) {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// Regex matches when any value of Attr matches Expr.
type Regex struct {
	Attr Attribute
	Expr *regexp.Regexp
}

func (p Regex) Match(call *callstore.Call) bool {
	for _, v := range values(call, p.Attr) {
		if p.Expr.MatchString(v) {
			return true
		}
	}
	return false
}

// NumericRange matches when any numeric value of Attr falls within
// [Min, Max] inclusive. Values that don't parse as a number are ignored.
type NumericRange struct {
	Attr     Attribute
	Min, Max float64
}

func (p NumericRange) Match(call *callstore.Call) bool {
	for _, v := range values(call, p.Attr) {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if n >= p.Min && n <= p.Max {
			return true
		}
	}
	return false
}

// MethodSet matches when the call issued any request using one of the
// given SIP methods.
type MethodSet struct {
	Methods map[string]struct{}
}

// NewMethodSet builds a MethodSet, upper-casing every method name so
// matching is case-insensitive without repeated conversion.
func NewMethodSet(methods ...string) MethodSet {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(m)] = struct{}{}
	}
	return MethodSet{Methods: set}
}

func (p MethodSet) Match(call *callstore.Call) bool {
	for _, m := range call.Messages {
		if !m.Msg.IsRequest {
			continue
		}
		if _, ok := p.Methods[strings.ToUpper(m.Msg.Method)]; ok {
			return true
		}
	}
	return false
}

// CallStateSet matches when the call's current state is one of States.
type CallStateSet struct {
	States map[callstore.State]struct{}
}

// NewCallStateSet builds a CallStateSet from a list of states.
func NewCallStateSet(states ...callstore.State) CallStateSet {
	set := make(map[callstore.State]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return CallStateSet{States: set}
}

func (p CallStateSet) Match(call *callstore.Call) bool {
	_, ok := p.States[call.State]
	return ok
}
