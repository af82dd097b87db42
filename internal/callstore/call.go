// Package callstore implements the Call/Call-group/Storage components
// (spec.md §4.C11/C12/C13): per-dialog message ordering and derived
// state, ad-hoc call grouping, and the indexed, memory-bounded collection
// that the dissection chain feeds and observers read from.
//
// Grounded on the teacher's internal/otus/module/buffer (BatchBuffer's
// size-capped append-only buffer, Limiter's checker/flush eviction loop)
// generalized from a batching output buffer into a size-limited call
// index, and on sipcapture/heplify's Call-ID-keyed correlation pattern for
// linking related dialogs.
package callstore

import (
	"net/url"
	"strings"
	"time"

	"sipwatch.dev/sipwatch/internal/dissect/sipmsg"
	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

// State is a Call's derived lifecycle state (spec.md §4.C11).
type State int

const (
	StateCallSetup State = iota
	StateInCall
	StateCancelled
	StateRejected
	StateBusy
	StateDiverted
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCallSetup:
		return "CALL_SETUP"
	case StateInCall:
		return "IN_CALL"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	case StateBusy:
		return "BUSY"
	case StateDiverted:
		return "DIVERTED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further state transition is expected for
// this call (used by Storage eviction: "oldest terminal calls", spec.md
// §4.C13).
func (s State) IsTerminal() bool {
	switch s {
	case StateCancelled, StateRejected, StateBusy, StateDiverted, StateCompleted:
		return true
	default:
		return false
	}
}

// MessageRecord is one SIP message attached to a Call, paired with the
// Packet it was dissected from (spec.md §3: "back-reference to the
// underlying Packet").
type MessageRecord struct {
	Arrival time.Time
	Msg     *sipmsg.Message
	Pkt     *packet.Packet
}

// Call is identified by its SIP Call-ID and holds every message observed
// for that dialog, in arrival order, plus state derived purely from that
// sequence (spec.md §3, §4.C11).
type Call struct {
	CallID   string
	Created  time.Time
	Messages []MessageRecord
	State    State

	// Renegotiated marks a re-INVITE seen after the call reached IN_CALL
	// (spec.md §4.C12: "record a media-renegotiation marker").
	Renegotiated bool

	// CompletedAt is set once State becomes terminal, used by Storage's
	// oldest-terminal-first eviction ordering.
	CompletedAt time.Time

	// XCalls holds Call-IDs this call references via Replaces, Refer-To,
	// or Referred-By (spec.md §3, §4.C12).
	XCalls map[string]struct{}

	// Addrs aggregates every distinct endpoint address observed across
	// this call's messages (spec.md §3: "aggregate addresses observed").
	Addrs map[sipnet.Address]struct{}

	inviteCSeq  int
	sawInvite   bool
	sawFinalInv bool
}

// NewCall creates an empty Call for callID, created at the given time.
func NewCall(callID string, created time.Time) *Call {
	return &Call{
		CallID:  callID,
		Created: created,
		XCalls:  make(map[string]struct{}),
		Addrs:   make(map[sipnet.Address]struct{}),
	}
}

// Append adds one message to the call, in arrival order, and re-derives
// state (spec.md §3 invariant: "messages ... are sorted by arrival
// timestamp; state is a pure function of the message sequence"). It
// returns the Call-IDs newly added to XCalls by this message, if any, so
// a caller holding the full call index (Store) can establish the
// reciprocal link on the referenced call too.
func (c *Call) Append(arrival time.Time, msg *sipmsg.Message, pkt *packet.Packet) []string {
	c.Messages = append(c.Messages, MessageRecord{Arrival: arrival, Msg: msg, Pkt: pkt})
	if pkt != nil {
		c.Addrs[pkt.Addrs.Src] = struct{}{}
		c.Addrs[pkt.Addrs.Dst] = struct{}{}
	}
	newRefs := c.resolveXCalls(msg)
	c.transition(msg, arrival)
	return newRefs
}

// transition implements the state table of spec.md §4.C11.
func (c *Call) transition(msg *sipmsg.Message, arrival time.Time) {
	if msg.IsRequest {
		switch msg.Method {
		case "INVITE":
			if !c.sawInvite {
				c.sawInvite = true
				c.inviteCSeq = msg.CSeqNum
				c.State = StateCallSetup
			} else if c.State == StateInCall {
				c.Renegotiated = true
			}
		case "CANCEL":
			if c.State == StateCallSetup {
				c.setTerminal(StateCancelled, arrival)
			}
		case "BYE":
			if c.State == StateInCall {
				c.setTerminal(StateCompleted, arrival)
			}
		}
		return
	}

	// Response. Only status codes answering the original INVITE transaction
	// drive the dialog-level state machine (spec.md §4.C11).
	if msg.CSeqMethod != "INVITE" {
		return
	}
	switch {
	case msg.StatusCode == 200:
		c.State = StateInCall
	case msg.StatusCode == 486 || msg.StatusCode == 600:
		c.setTerminal(StateBusy, arrival)
	case msg.StatusCode >= 300 && msg.StatusCode < 400:
		c.setTerminal(StateDiverted, arrival)
	case msg.StatusCode >= 300:
		c.setTerminal(StateRejected, arrival)
	}
}

func (c *Call) setTerminal(s State, at time.Time) {
	if c.State.IsTerminal() {
		return // already terminal; first terminal transition wins
	}
	c.State = s
	c.CompletedAt = at
}

// resolveXCalls scans Replaces/Refer-To/Referred-By headers for another
// Call-ID, linking this call to it (spec.md §4.C12), and returns the
// Call-IDs newly added by this message (ids already present in XCalls
// are not reported again).
func (c *Call) resolveXCalls(msg *sipmsg.Message) []string {
	var added []string
	for _, header := range []string{"replaces", "refer-to", "referred-by"} {
		for _, v := range msg.Headers.All(header) {
			id := extractCallIDParam(header, v)
			if id == "" || id == c.CallID {
				continue
			}
			if _, already := c.XCalls[id]; already {
				continue
			}
			c.XCalls[id] = struct{}{}
			added = append(added, id)
		}
	}
	return added
}

// extractCallIDParam pulls the referenced Call-ID out of a Replaces/
// Refer-To/Referred-By header value. A bare Replaces header carries the
// Call-ID as its leading token, before the first ';' (RFC 3891: "Replaces:
// call-id;to-tag=...;from-tag=..."). Refer-To/Referred-By instead carry a
// SIP URI whose "Replaces" URI-header parameter holds the same
// semicolon-separated triple, percent-encoded (RFC 3515/2396, e.g.
// "<sip:bob@x?Replaces=a%40x%3Bto-tag%3D1%3Bfrom-tag%3D2>"); that
// parameter value must be percent-decoded before its leading token is the
// Call-ID.
func extractCallIDParam(header, v string) string {
	if header == "replaces" {
		if idx := strings.IndexByte(v, ';'); idx >= 0 {
			return v[:idx]
		}
		return v
	}

	raw := replacesParam(trimAngleBrackets(v))
	if raw == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	if idx := strings.IndexByte(decoded, ';'); idx >= 0 {
		return decoded[:idx]
	}
	return decoded
}

// replacesParam extracts the raw (still percent-encoded) value of the
// "Replaces" URI-header parameter from a SIP(S) URI's query component,
// e.g. "sip:bob@x?Replaces=a%40x&foo=bar" -> "a%40x".
func replacesParam(uri string) string {
	q := strings.IndexByte(uri, '?')
	if q < 0 {
		return ""
	}
	for _, param := range strings.Split(uri[q+1:], "&") {
		name, value, found := strings.Cut(param, "=")
		if found && strings.EqualFold(name, "Replaces") {
			return value
		}
	}
	return ""
}

func trimAngleBrackets(s string) string {
	if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
		return s[1 : len(s)-1]
	}
	return s
}
