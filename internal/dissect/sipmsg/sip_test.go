package sipmsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inviteFixture = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc123\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"Call-ID: call-1@example.com\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"abcd"

func TestParseRequest(t *testing.T) {
	msg, n, err := Parse([]byte(inviteFixture))
	require.NoError(t, err)
	assert.Equal(t, len(inviteFixture), n)
	assert.True(t, msg.IsRequest)
	assert.Equal(t, "INVITE", msg.Method)
	assert.Equal(t, "sip:bob@example.com", msg.RequestURI)
	assert.Equal(t, "call-1@example.com", msg.CallID)
	assert.Equal(t, "aaa", msg.FromTag)
	assert.Equal(t, "z9hG4bKabc123", msg.ViaBranch)
	assert.Equal(t, 1, msg.CSeqNum)
	assert.Equal(t, "INVITE", msg.CSeqMethod)
	assert.Equal(t, []byte("abcd"), msg.Body)
	assert.True(t, msg.IsSDP())
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc123\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
		"Call-ID: call-1@example.com\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	msg, n, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.False(t, msg.IsRequest)
	assert.Equal(t, 200, msg.StatusCode)
	assert.Equal(t, "OK", msg.Reason)
	assert.Equal(t, "bbb", msg.ToTag)
	assert.Equal(t, msg.Txn(), TransactionKey{CallID: "call-1@example.com", CSeqNum: 1, CSeqMethod: "INVITE", Branch: "z9hG4bKabc123"})
}

func TestParseMissingRequiredHeaderDrops(t *testing.T) {
	raw := "OPTIONS sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKxyz\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	_, _, err := Parse([]byte(raw))
	assert.ErrorIs(t, err, ErrMissingRequiredHeader)
}

func TestParseIncompleteBodyWaitsForMore(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc123\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: call-1@example.com\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 10\r\n" +
		"\r\n" +
		"short"
	_, _, err := Parse([]byte(raw))
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestParseCompactHeaderForms(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"v: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc123\r\n" +
		"f: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"t: Bob <sip:bob@example.com>\r\n" +
		"i: call-1@example.com\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"l: 0\r\n" +
		"\r\n"
	msg, _, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "call-1@example.com", msg.CallID)
	assert.Equal(t, "z9hG4bKabc123", msg.ViaBranch)
}

func TestParseFoldedHeaderIsUnfolded(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		" ;branch=z9hG4bKabc123\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: call-1@example.com\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	msg, _, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "z9hG4bKabc123", msg.ViaBranch)
}

func TestRetransmissionCacheDedups(t *testing.T) {
	msg, _, err := Parse([]byte(inviteFixture))
	require.NoError(t, err)

	c := NewRetransmissionCache(time.Minute)
	assert.False(t, c.SeenBefore(msg))
	assert.True(t, c.SeenBefore(msg))
}
