// Package sipmsg implements the SIP dissector (spec.md §4.C5): parsing of
// the request/response start-line, the case-insensitive header multimap,
// and Content-Length-delimited bodies, plus the transaction key used to
// correlate responses to requests.
//
// Grounded on the teacher's plugins/parser/sip (sip.go, sip_parser.go:
// method/magic-byte detection, Content-Length framing) and on the header
// multimap shape used throughout github.com/ghettovoice/gosip's sip
// package in the wider retrieved corpus.
package sipmsg

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// ErrIncomplete means the buffer does not yet contain a full message
// (Content-Length bytes not all present). The caller should wait for more
// data (relevant to the TCP path; spec.md §4.C4/§4.C5).
var ErrIncomplete = errors.New("sipmsg: incomplete message")

// ErrMissingRequiredHeader means one of Call-ID, CSeq, From, To, Via was
// absent; spec.md §4.C5 requires the message be dropped.
var ErrMissingRequiredHeader = errors.New("sipmsg: missing required header")

// ErrMalformed means the start-line or a required header could not be
// parsed.
var ErrMalformed = errors.New("sipmsg: malformed message")

var requestMethods = []string{
	"INVITE", "ACK", "BYE", "CANCEL", "REGISTER", "OPTIONS", "PRACK",
	"SUBSCRIBE", "NOTIFY", "PUBLISH", "INFO", "REFER", "MESSAGE", "UPDATE",
}

const sipVersion = "SIP/2.0"

// Headers is a case-insensitive, order-preserving header multimap. Keys are
// canonicalized to their lowercase form for lookup (spec.md §4.C5). Parse
// stores each value in its original case, after unfolding folded lines and
// trimming leading and trailing whitespace.
type Headers struct {
	order  []string
	values map[string][]string
}

func newHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

func canon(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Add appends a value under name, preserving it verbatim.
func (h *Headers) Add(name, value string) {
	key := canon(name)
	if _, ok := h.values[key]; !ok {
		h.order = append(h.order, key)
	}
	h.values[key] = append(h.values[key], value)
}

// Get returns the first value stored under name, if any.
func (h *Headers) Get(name string) (string, bool) {
	vs, ok := h.values[canon(name)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// All returns every value stored under name, in arrival order.
func (h *Headers) All(name string) []string {
	return h.values[canon(name)]
}

// Names returns the distinct header names seen, in first-seen order.
func (h *Headers) Names() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// TransactionKey matches a response to the request it answers (spec.md
// §4.C5: "(Call-ID, CSeq-number, CSeq-method, branch-of-topmost-Via)").
type TransactionKey struct {
	CallID     string
	CSeqNum    int
	CSeqMethod string
	Branch     string
}

func (k TransactionKey) String() string {
	return fmt.Sprintf("%s|%d|%s|%s", k.CallID, k.CSeqNum, k.CSeqMethod, k.Branch)
}

// Message is a parsed SIP request or response (spec.md §3, §4.C5).
type Message struct {
	IsRequest bool
	Method    string // request method, or "" for a response
	RequestURI string
	StatusCode int    // response code, or 0 for a request
	Reason     string // response reason phrase

	Headers *Headers
	Body    []byte

	CallID   string
	FromTag  string
	ToTag    string
	ViaBranch string
	CSeqNum    int
	CSeqMethod string

	Raw []byte
}

// Txn returns this message's transaction key.
func (m *Message) Txn() TransactionKey {
	return TransactionKey{CallID: m.CallID, CSeqNum: m.CSeqNum, CSeqMethod: m.CSeqMethod, Branch: m.ViaBranch}
}

// IsSDP reports whether the message body is SDP, per its Content-Type
// header (spec.md §4.C6: "Applied only when ... Content-Type is
// application/sdp").
func (m *Message) IsSDP() bool {
	if len(m.Body) == 0 {
		return false
	}
	ct, ok := m.Headers.Get("content-type")
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(ct), "application/sdp")
}

// Parse parses one SIP message out of data. If Content-Length indicates
// more body bytes than are present, ErrIncomplete is returned so a TCP
// caller can wait for more segments; a malformed start-line or a missing
// required header is reported with ErrMalformed/ErrMissingRequiredHeader
// respectively so the chain drops the packet per spec.md §4.C3.
func Parse(data []byte) (*Message, int, error) {
	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	sepLen := 4
	if headerEnd == -1 {
		headerEnd = bytes.Index(data, []byte("\n\n"))
		sepLen = 2
		if headerEnd == -1 {
			return nil, 0, ErrIncomplete
		}
	}

	headerBlock := unfold(data[:headerEnd])
	lines := splitLines(headerBlock)
	if len(lines) == 0 {
		return nil, 0, ErrMalformed
	}

	msg := &Message{Headers: newHeaders()}
	if err := parseStartLine(lines[0], msg); err != nil {
		return nil, 0, err
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		msg.Headers.Add(expandCompactName(name), value)
	}

	if err := requireHeaders(msg.Headers); err != nil {
		return nil, 0, err
	}

	contentLength, err := parseContentLength(msg.Headers)
	if err != nil {
		return nil, 0, ErrMalformed
	}

	bodyStart := headerEnd + sepLen
	total := bodyStart + contentLength
	if len(data) < total {
		return nil, 0, ErrIncomplete
	}

	msg.Body = append([]byte(nil), data[bodyStart:total]...)
	msg.Raw = append([]byte(nil), data[:total]...)

	populateDerivedFields(msg)
	return msg, total, nil
}

func parseStartLine(line string, msg *Message) error {
	if strings.HasPrefix(line, sipVersion+" ") {
		// Status-Line: SIP/2.0 CODE REASON
		rest := strings.TrimSpace(line[len(sipVersion):])
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) == 0 {
			return ErrMalformed
		}
		code, err := strconv.Atoi(parts[0])
		if err != nil {
			return ErrMalformed
		}
		msg.StatusCode = code
		if len(parts) == 2 {
			msg.Reason = parts[1]
		}
		return nil
	}

	for _, method := range requestMethods {
		if strings.HasPrefix(line, method+" ") {
			rest := strings.TrimPrefix(line, method+" ")
			rest = strings.TrimSuffix(rest, " "+sipVersion)
			msg.IsRequest = true
			msg.Method = method
			msg.RequestURI = strings.TrimSpace(rest)
			return nil
		}
	}
	return ErrMalformed
}

func requireHeaders(h *Headers) error {
	for _, name := range []string{"call-id", "cseq", "from", "to", "via"} {
		if _, ok := h.Get(name); !ok {
			return ErrMissingRequiredHeader
		}
	}
	return nil
}

func parseContentLength(h *Headers) (int, error) {
	v, ok := h.Get("content-length")
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, err
	}
	return n, nil
}

func populateDerivedFields(msg *Message) {
	if callID, ok := msg.Headers.Get("call-id"); ok {
		msg.CallID = callID
	}
	if from, ok := msg.Headers.Get("from"); ok {
		msg.FromTag = extractTag(from)
	}
	if to, ok := msg.Headers.Get("to"); ok {
		msg.ToTag = extractTag(to)
	}
	if via, ok := msg.Headers.Get("via"); ok {
		msg.ViaBranch = extractParam(via, "branch")
	}
	if cseq, ok := msg.Headers.Get("cseq"); ok {
		fields := strings.Fields(cseq)
		if len(fields) >= 1 {
			if n, err := strconv.Atoi(fields[0]); err == nil {
				msg.CSeqNum = n
			}
		}
		if len(fields) >= 2 {
			msg.CSeqMethod = strings.ToUpper(fields[1])
		}
	}
}

// extractTag pulls the ";tag=..." parameter out of a From/To header value.
func extractTag(headerValue string) string {
	return extractParam(headerValue, "tag")
}

// extractParam pulls a ";name=value" parameter from a header value,
// stopping at the next ';' or end of string.
func extractParam(headerValue, name string) string {
	lower := strings.ToLower(headerValue)
	marker := ";" + name + "="
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return ""
	}
	rest := headerValue[idx+len(marker):]
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		rest = rest[:semi]
	}
	return strings.TrimSpace(rest)
}

// unfold joins folded header lines (a line starting with SP/HTAB continues
// the previous line), per spec.md §4.C5: "folded-line unfolding".
func unfold(block []byte) []byte {
	lines := bytes.Split(block, []byte("\n"))
	var out [][]byte
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] = append(out[len(out)-1], ' ')
			out[len(out)-1] = append(out[len(out)-1], bytes.TrimLeft(line, " \t")...)
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func splitLines(block []byte) []string {
	raw := strings.Split(string(block), "\n")
	out := make([]string, len(raw))
	copy(out, raw)
	return out
}

// compactNames maps SIP compact header forms to their long name (RFC 3261
// §7.3.3), so the multimap is keyed consistently regardless of which form
// a UA used on the wire.
var compactNames = map[string]string{
	"i": "call-id",
	"f": "from",
	"t": "to",
	"v": "via",
	"m": "contact",
	"l": "content-length",
	"c": "content-type",
	"s": "subject",
	"k": "supported",
}

func expandCompactName(name string) string {
	if full, ok := compactNames[canon(name)]; ok {
		return full
	}
	return name
}

// RetransmissionCache recognizes duplicate requests sharing the same
// transaction key within a short TTL, so a retransmitted INVITE (common
// over UDP) does not create a second Message in a Call (spec.md §11
// supplement, grounded on sngrep's transaction-key dedup and the teacher's
// patrickmn/go-cache session cache in plugins/parser/sip/sip.go).
type RetransmissionCache struct {
	c *cache.Cache
}

// NewRetransmissionCache creates a cache with the given entry TTL.
func NewRetransmissionCache(ttl time.Duration) *RetransmissionCache {
	if ttl <= 0 {
		ttl = 32 * time.Second
	}
	return &RetransmissionCache{c: cache.New(ttl, ttl*2)}
}

// SeenBefore records txn plus the raw message bytes and reports whether
// this exact message was already observed within the TTL window.
func (r *RetransmissionCache) SeenBefore(msg *Message) bool {
	key := msg.Txn().String() + "|" + string(msg.Raw)
	if _, found := r.c.Get(key); found {
		return true
	}
	r.c.SetDefault(key, struct{}{})
	return false
}
