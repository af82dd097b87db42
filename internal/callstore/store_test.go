package callstore

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipwatch.dev/sipwatch/internal/dissect/sipmsg"
	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

func sipPacket(t *testing.T, raw string, at time.Time) *packet.Packet {
	t.Helper()
	msg, _, err := sipmsg.Parse([]byte(raw))
	require.NoError(t, err)
	pkt := packet.New(at, at)
	pkt.Addrs = sipnet.Pair{
		Src: sipnet.NewAddress(netip.MustParseAddr("10.0.0.1"), 5060),
		Dst: sipnet.NewAddress(netip.MustParseAddr("10.0.0.2"), 5060),
	}
	pkt.Set(packet.ProtocolSIP, msg, nil)
	return pkt
}

const invite = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKa\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"Call-ID: call-1@example.com\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

const okResponse = "SIP/2.0 200 OK\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKa\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
	"Call-ID: call-1@example.com\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

const bye = "BYE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKb\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
	"Call-ID: call-1@example.com\r\n" +
	"CSeq: 2 BYE\r\n" +
	"Content-Length: 0\r\n\r\n"

func TestStoreIngestDerivesCallLifecycle(t *testing.T) {
	s := NewStore(Config{})
	now := time.Now()

	ok1 := s.Ingest(sipPacket(t, invite, now))
	assert.True(t, ok1)
	call, found := s.Get("call-1@example.com")
	require.True(t, found)
	assert.Equal(t, StateCallSetup, call.State)

	s.Ingest(sipPacket(t, okResponse, now.Add(time.Second)))
	call, _ = s.Get("call-1@example.com")
	assert.Equal(t, StateInCall, call.State)

	s.Ingest(sipPacket(t, bye, now.Add(2*time.Second)))
	call, _ = s.Get("call-1@example.com")
	assert.Equal(t, StateCompleted, call.State)
	assert.False(t, call.CompletedAt.IsZero())
}

func TestStoreCaptureDialogsOnlyDropsNonInvite(t *testing.T) {
	s := NewStore(Config{CaptureDialogsOnly: true})
	ok := s.Ingest(sipPacket(t, bye, time.Now()))
	assert.False(t, ok)
	_, found := s.Get("call-1@example.com")
	assert.False(t, found)
}

func TestStoreMatchExpressionFiltersIngest(t *testing.T) {
	s := NewStore(Config{MatchExpression: `Call-ID: call-1@example\.com`})
	ok := s.Ingest(sipPacket(t, invite, time.Now()))
	assert.True(t, ok)

	s2 := NewStore(Config{MatchExpression: `Call-ID: nope@example\.com`})
	ok2 := s2.Ingest(sipPacket(t, invite, time.Now()))
	assert.False(t, ok2)
}

func TestStoreEvictsOldestTerminalFirstUnderMemoryPressure(t *testing.T) {
	s := NewStore(Config{MemoryLimitBytes: 1})
	now := time.Now()

	s.Ingest(sipPacket(t, invite, now))
	s.Ingest(sipPacket(t, okResponse, now.Add(time.Second)))
	s.Ingest(sipPacket(t, bye, now.Add(2*time.Second))) // completes and should trip eviction

	_, found := s.Get("call-1@example.com")
	assert.False(t, found, "the only (terminal) call should have been evicted over the 1-byte limit")
}

func TestStoreClearAndClearSoft(t *testing.T) {
	s := NewStore(Config{})
	s.Ingest(sipPacket(t, invite, time.Now()))

	snap := s.Snapshot(SortOption{}, nil)
	assert.Len(t, snap, 1)

	s.ClearSoft(func(c *Call) bool { return false })
	assert.Equal(t, 0, s.Stats(nil).Total)

	s.Ingest(sipPacket(t, invite, time.Now()))
	s.Clear()
	assert.Equal(t, 0, s.Stats(nil).Total)
}

const inviteAx = "INVITE sip:bob@x SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKa\r\n" +
	"From: Alice <sip:alice@x>;tag=aaa\r\n" +
	"To: Bob <sip:bob@x>\r\n" +
	"Call-ID: a@x\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

// referBx is an attended-transfer REFER on a second call (b@x) whose
// Refer-To URI carries a Replaces parameter pointing back at a@x,
// percent-encoded per RFC 3515/2396 (spec.md §8 scenario 2).
const referBx = "REFER sip:carol@x SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.3:5060;branch=z9hG4bKc\r\n" +
	"From: Carol <sip:carol@x>;tag=ccc\r\n" +
	"To: Dave <sip:dave@x>;tag=ddd\r\n" +
	"Call-ID: b@x\r\n" +
	"CSeq: 1 REFER\r\n" +
	"Refer-To: <sip:carol@x?Replaces=a%40x%3Bto-tag%3Dbbb%3Bfrom-tag%3Daaa>\r\n" +
	"Content-Length: 0\r\n\r\n"

func TestStoreAttendedTransferLinksXCallsBothWays(t *testing.T) {
	s := NewStore(Config{})
	s.Ingest(sipPacket(t, inviteAx, time.Now()))
	s.Ingest(sipPacket(t, referBx, time.Now()))

	a, found := s.Get("a@x")
	require.True(t, found)
	_, linked := a.XCalls["b@x"]
	assert.True(t, linked, "a@x.xcalls must contain b@x")

	b, found := s.Get("b@x")
	require.True(t, found)
	_, linked = b.XCalls["a@x"]
	assert.True(t, linked, "b@x.xcalls must contain a@x")
}

func TestStoreAttendedTransferLinksXCallsRegardlessOfArrivalOrder(t *testing.T) {
	s := NewStore(Config{})
	// b@x (the REFER) arrives before a@x exists in the store.
	s.Ingest(sipPacket(t, referBx, time.Now()))
	s.Ingest(sipPacket(t, inviteAx, time.Now()))

	a, found := s.Get("a@x")
	require.True(t, found)
	_, linked := a.XCalls["b@x"]
	assert.True(t, linked, "a@x.xcalls must contain b@x even when a@x is created after the REFER")

	b, found := s.Get("b@x")
	require.True(t, found)
	_, linked = b.XCalls["a@x"]
	assert.True(t, linked, "b@x.xcalls must contain a@x")
}
