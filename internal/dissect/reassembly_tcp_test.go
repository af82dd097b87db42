package dissect

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sipwatch.dev/sipwatch/internal/sipnet"
)

func TestTCPReassemblerOutOfOrderSegments(t *testing.T) {
	// spec.md §8 scenario 5: a 3-way split SIP INVITE arrives as segments
	// 2, 1, 3 (in that arrival order); the reassembled payload must equal
	// the concatenation in logical order 1, 2, 3.
	r := NewTCPReassembler(50*time.Millisecond, 16)
	src := sipnet.NewAddress(netip.MustParseAddr("10.0.0.1"), 5070)
	dst := sipnet.NewAddress(netip.MustParseAddr("10.0.0.2"), 5060)

	seg1 := []byte("INVITE sip:bob@example.com SIP/2.0\r\n")
	seg2 := []byte("Call-ID: abc@example.com\r\n")
	seg3 := []byte("\r\n")

	base := uint32(1000)
	now := time.Now()

	out := r.Feed(src, dst, base+uint32(len(seg1)), seg2, now) // segment 2 first
	assert.Nil(t, out)

	out = r.Feed(src, dst, base, seg1, now) // segment 1 second: now contiguous
	assert.Equal(t, append(append([]byte{}, seg1...), seg2...), out)

	out = r.Feed(src, dst, base+uint32(len(seg1)+len(seg2)), seg3, now) // segment 3
	assert.Equal(t, seg3, out)
}

func TestTCPReassemblerRetransmissionIsIdempotent(t *testing.T) {
	r := NewTCPReassembler(50*time.Millisecond, 16)
	src := sipnet.NewAddress(netip.MustParseAddr("10.0.0.1"), 5070)
	dst := sipnet.NewAddress(netip.MustParseAddr("10.0.0.2"), 5060)
	now := time.Now()

	seg := []byte("OPTIONS sip:bob@example.com SIP/2.0\r\n\r\n")
	out := r.Feed(src, dst, 2000, seg, now)
	assert.Nil(t, out) // single segment, held pending confirmation

	settled := r.Settle(now.Add(100 * time.Millisecond))
	assert.Len(t, settled, 1)

	// Retransmit the same segment after the flow has started: idempotent.
	out = r.Feed(src, dst, 2000, seg, now.Add(200*time.Millisecond))
	assert.Nil(t, out)
}

func TestTCPReassemblerAbandonsStaleGap(t *testing.T) {
	r := NewTCPReassembler(10*time.Millisecond, 16)
	src := sipnet.NewAddress(netip.MustParseAddr("10.0.0.1"), 5070)
	dst := sipnet.NewAddress(netip.MustParseAddr("10.0.0.2"), 5060)
	now := time.Now()

	first := []byte("BYE sip:bob@example.com SIP/2.0\r\n")
	r.Feed(src, dst, 3000, first, now)
	settled := r.Settle(now.Add(20 * time.Millisecond))
	assert.Len(t, settled, 1)

	// A segment arrives leaving a permanent gap before it.
	later := []byte("late-segment-after-a-hole")
	out := r.Feed(src, dst, 3000+uint32(len(first))+100, later, now.Add(30*time.Millisecond))
	assert.Nil(t, out)

	settled = r.Settle(now.Add(60 * time.Millisecond))
	assert.Len(t, settled, 1, "the gap is abandoned and the stream resumes from the later segment")
}

func TestIPv4ReassemblerContiguousFragments(t *testing.T) {
	r := NewIPv4Reassembler(time.Second)
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")

	part1 := make([]byte, 8)
	part2 := make([]byte, 8)
	for i := range part1 {
		part1[i] = byte(i)
		part2[i] = byte(i + 8)
	}

	out, err := r.Process(src, dst, 17, 42, 64, 0, true, part1)
	assert.NoError(t, err)
	assert.Nil(t, out)

	out, err = r.Process(src, dst, 17, 42, 64, 8, false, part2)
	assert.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, part1...), part2...), out)
}

func TestIPv4ReassemblerSweepDiscardsStale(t *testing.T) {
	r := NewIPv4Reassembler(10 * time.Millisecond)
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")

	_, err := r.Process(src, dst, 17, 7, 64, 0, true, []byte{1, 2, 3, 4})
	assert.NoError(t, err)

	discarded := r.Sweep(time.Now().Add(time.Second))
	assert.Equal(t, 1, discarded)
}
