package dissect

import (
	dissectsdp "sipwatch.dev/sipwatch/internal/dissect/sdp"
	"sipwatch.dev/sipwatch/internal/packet"
)

// SDPDissector parses the SDP body handed up from SIP and attaches the
// resulting session/media data to the packet. It is a terminal node: SDP
// is not itself a transport for anything further (spec.md §4.C6).
type SDPDissector struct{}

func (SDPDissector) ID() packet.ProtocolID { return packet.ProtocolSDP }
func (SDPDissector) Name() string          { return "sdp" }

func (SDPDissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	sess := dissectsdp.Parse(in)
	pkt.Set(packet.ProtocolSDP, sess, nil)
	return nil, nil
}
