package dissect

import (
	"sort"
	"time"

	"sipwatch.dev/sipwatch/internal/sipnet"
)

// tcpFlowKey identifies one direction of one TCP flow by its endpoint pair
// (spec.md §4.C4: "per-flow reassembly keyed by (src-endpoint, dst-endpoint)").
type tcpFlowKey struct {
	src, dst sipnet.Address
}

type tcpSegment struct {
	seq  uint32
	data []byte
}

// tcpFlow holds the segment buffer for one direction of one TCP connection.
// Reassembly runs synchronously on the capture worker (spec.md §5), so no
// channel or extra goroutine is needed the way the teacher's
// tcpassembly.Stream used one per direction.
type tcpFlow struct {
	started    bool // true once a reliable stream-start sequence is known
	nextSeq    uint32
	segments   []tcpSegment // out-of-order, sorted by seq on insert
	lastGrowth time.Time    // last time a new segment was buffered
	lastActive time.Time
}

// TCPReassembler reconstructs contiguous byte ranges from TCP segments that
// may arrive out of order or be retransmitted (spec.md §4.C4).
//
// Until a flow's true start sequence is confirmed, either because two or
// more segments already connect end-to-end, or because Settle has been
// called after the flow sat idle for Window, segments are held back rather
// than handed downstream immediately. This avoids misidentifying an
// out-of-order later segment as the stream's first byte, at the cost of a
// bounded delay before the very first segment of a flow is released.
type TCPReassembler struct {
	flows      map[tcpFlowKey]*tcpFlow
	window     time.Duration // reorder hold / gap timeout, spec.md §4.C4
	maxHeld    int
}

// NewTCPReassembler creates a reassembler. window bounds both how long an
// unconfirmed stream start is held before being committed by Settle, and
// how long an in-stream gap is held before being abandoned.
func NewTCPReassembler(window time.Duration, maxHeld int) *TCPReassembler {
	if window <= 0 {
		window = 2 * time.Second
	}
	if maxHeld <= 0 {
		maxHeld = 64
	}
	return &TCPReassembler{
		flows:   make(map[tcpFlowKey]*tcpFlow),
		window:  window,
		maxHeld: maxHeld,
	}
}

// Feed inserts one segment. It returns newly-available contiguous bytes
// immediately when either the flow is already in steady in-order state, or
// this segment completes an unbroken chain of two or more buffered
// segments (strong evidence the chain is the true, complete start).
// Otherwise it buffers the segment and returns nil; call Settle
// periodically to release segments that never gained a confirming
// neighbor.
func (r *TCPReassembler) Feed(src, dst sipnet.Address, seq uint32, payload []byte, now time.Time) []byte {
	if len(payload) == 0 {
		return nil
	}
	key := tcpFlowKey{src: src, dst: dst}
	f, ok := r.flows[key]
	if !ok {
		f = &tcpFlow{lastGrowth: now}
		r.flows[key] = f
	}
	f.lastActive = now

	if f.started {
		return r.feedStarted(f, seq, payload)
	}

	f.segments = append(f.segments, tcpSegment{seq: seq, data: append([]byte(nil), payload...)})
	sort.Slice(f.segments, func(i, j int) bool { return seqLess(f.segments[i].seq, f.segments[j].seq) })
	f.lastGrowth = now
	if len(f.segments) >= r.trimLimit() {
		f.segments = f.segments[len(f.segments)-r.trimLimit():]
	}

	if !contiguousChain(f.segments) || len(f.segments) < 2 {
		return nil
	}

	// The whole buffer connects end-to-end across >=2 segments: commit it
	// as the confirmed stream start.
	return r.commit(f)
}

func (r *TCPReassembler) trimLimit() int { return r.maxHeld }

func (r *TCPReassembler) feedStarted(f *tcpFlow, seq uint32, payload []byte) []byte {
	relSeq := seq - f.nextSeq
	if relSeq == 0 {
		out := append([]byte(nil), payload...)
		f.nextSeq = seq + uint32(len(payload))
		out = append(out, r.drain(f)...)
		return out
	}
	if seqLess(seq, f.nextSeq) {
		return nil // fully-overlapping retransmission: idempotent no-op
	}
	if len(f.segments) >= r.maxHeld {
		f.segments = f.segments[1:]
	}
	f.segments = append(f.segments, tcpSegment{seq: seq, data: append([]byte(nil), payload...)})
	sort.Slice(f.segments, func(i, j int) bool { return seqLess(f.segments[i].seq, f.segments[j].seq) })
	return nil
}

// drain pops segments contiguous with f.nextSeq, advancing it.
func (r *TCPReassembler) drain(f *tcpFlow) []byte {
	var out []byte
	for len(f.segments) > 0 && f.segments[0].seq == f.nextSeq {
		seg := f.segments[0]
		f.segments = f.segments[1:]
		out = append(out, seg.data...)
		f.nextSeq = seg.seq + uint32(len(seg.data))
	}
	return out
}

// commit promotes a not-yet-started flow's fully-contiguous pending buffer
// into steady state, returning its concatenated bytes.
func (r *TCPReassembler) commit(f *tcpFlow) []byte {
	var out []byte
	for _, seg := range f.segments {
		out = append(out, seg.data...)
	}
	last := f.segments[len(f.segments)-1]
	f.nextSeq = last.seq + uint32(len(last.data))
	f.segments = nil
	f.started = true
	return out
}

// Settle releases any not-yet-started flow whose pending buffer has not
// grown for at least Window, committing its first contiguous run as the
// confirmed stream start even if it is a single segment. It also abandons
// in-stream gaps held longer than Window in already-started flows,
// skipping past the permanently-lost gap so the stream can continue
// (spec.md §7: "partial data discarded, stream continues").
//
// Settle returns the newly-released bytes per flow, keyed by the flow's
// destination address pair so the caller can re-inject them into the SIP
// dissector for the right direction.
func (r *TCPReassembler) Settle(now time.Time) map[tcpFlowKey][]byte {
	released := make(map[tcpFlowKey][]byte)
	for key, f := range r.flows {
		if !f.started {
			if len(f.segments) == 0 || now.Sub(f.lastGrowth) < r.window {
				continue
			}
			run, rest := firstContiguousRun(f.segments)
			if len(run) == 0 {
				continue
			}
			var out []byte
			for _, seg := range run {
				out = append(out, seg.data...)
			}
			last := run[len(run)-1]
			f.nextSeq = last.seq + uint32(len(last.data))
			f.segments = rest
			f.started = true
			released[key] = out
			continue
		}

		if len(f.segments) == 0 {
			continue
		}
		if now.Sub(f.lastActive) <= r.window {
			continue
		}
		// Abandon the gap: jump to the next held segment and resume.
		next := f.segments[0]
		f.nextSeq = next.seq
		out := r.drain(f)
		if len(out) > 0 {
			released[key] = out
		}
	}
	return released
}

// contiguousChain reports whether segs (sorted by seq) connect end-to-end
// with no gaps.
func contiguousChain(segs []tcpSegment) bool {
	for i := 1; i < len(segs); i++ {
		if segs[i].seq != segs[i-1].seq+uint32(len(segs[i-1].data)) {
			return false
		}
	}
	return true
}

// firstContiguousRun returns the longest contiguous prefix of sorted segs,
// plus the remaining (non-contiguous) tail.
func firstContiguousRun(segs []tcpSegment) (run, rest []tcpSegment) {
	if len(segs) == 0 {
		return nil, nil
	}
	i := 1
	for i < len(segs) && segs[i].seq == segs[i-1].seq+uint32(len(segs[i-1].data)) {
		i++
	}
	return segs[:i], segs[i:]
}

// seqLess compares TCP sequence numbers accounting for 32-bit wraparound.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
