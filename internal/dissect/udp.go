package dissect

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

// UDPDissector passes the UDP payload through, stamping source/destination
// ports onto the packet's address pair (spec.md §4.C4).
type UDPDissector struct{}

func (UDPDissector) ID() packet.ProtocolID { return packet.ProtocolUDP }
func (UDPDissector) Name() string          { return "udp" }

func (UDPDissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	var udp layers.UDP
	if err := udp.DecodeFromBytes(in, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	applyTransportPorts(pkt, uint16(udp.SrcPort), uint16(udp.DstPort))
	return udp.Payload, nil
}

// applyTransportPorts fills in the ports on whichever IP layer populated
// the packet's address pair.
func applyTransportPorts(pkt *packet.Packet, srcPort, dstPort uint16) {
	if data, ok := pkt.Get(packet.ProtocolIPv4); ok {
		ipd := data.(*IPData)
		pkt.Addrs.Src = sipnet.WithPort(ipd.Src, srcPort)
		pkt.Addrs.Dst = sipnet.WithPort(ipd.Dst, dstPort)
		return
	}
	if data, ok := pkt.Get(packet.ProtocolIPv6); ok {
		ipd := data.(*IPData)
		pkt.Addrs.Src = sipnet.WithPort(ipd.Src, srcPort)
		pkt.Addrs.Dst = sipnet.WithPort(ipd.Dst, dstPort)
	}
}

// UDPNext always hands off to SIP: this observer only cares about SIP
// traffic over UDP, so there is no STUN/RTP branch (spec.md §1 Non-goals).
// A port/content heuristic would be added here if another UDP-carried
// protocol ever needed dissecting.
func UDPNext(_ *packet.Packet, _ []byte) (packet.ProtocolID, bool) {
	return packet.ProtocolSIP, true
}
