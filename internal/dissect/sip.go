package dissect

import (
	"time"

	"sipwatch.dev/sipwatch/internal/dissect/sipmsg"
	"sipwatch.dev/sipwatch/internal/packet"
)

// SIPDissector parses a SIP message out of the bytes handed up from UDP,
// TCP, or TLS, stores it on the packet, and hands the body to SDP when the
// message carries one (spec.md §4.C5).
type SIPDissector struct {
	Retransmissions *sipmsg.RetransmissionCache
}

// NewSIPDissector creates a dissector with a retransmission-dedup cache of
// the given TTL (0 selects the default, spec.md §11).
func NewSIPDissector(retransmitTTL time.Duration) *SIPDissector {
	return &SIPDissector{Retransmissions: sipmsg.NewRetransmissionCache(retransmitTTL)}
}

func (SIPDissector) ID() packet.ProtocolID { return packet.ProtocolSIP }
func (SIPDissector) Name() string          { return "sip" }

// Dissect parses in as a single SIP message. A malformed start-line or a
// missing required header drops the packet (ErrDrop is not used here since
// these are real decode failures the chain should count, per spec.md
// §4.C3). A retransmission of an already-seen message within the dedup
// window is treated as ErrDrop: not malformed, just not new.
func (d *SIPDissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	msg, _, err := sipmsg.Parse(in)
	if err != nil {
		if err == sipmsg.ErrIncomplete {
			// A caller above TCP reassembly should not hand us a partial
			// message; treat it as a drop rather than propagating upward.
			return nil, ErrDrop
		}
		return nil, err
	}

	if d.Retransmissions != nil && d.Retransmissions.SeenBefore(msg) {
		return nil, ErrDrop
	}

	pkt.Set(packet.ProtocolSIP, msg, nil)

	if msg.IsSDP() {
		return msg.Body, nil
	}
	return nil, nil
}

// SIPNext hands a message's SDP body to the SDP dissector; it is the end of
// the chain otherwise (spec.md §4.C6: "Applied only when ... Content-Type
// is application/sdp").
func SIPNext(_ *packet.Packet, _ []byte) (packet.ProtocolID, bool) {
	return packet.ProtocolSDP, true
}
