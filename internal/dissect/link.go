package dissect

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sipwatch.dev/sipwatch/internal/packet"
)

// LinkData is the protocol data attached by LinkDissector.
type LinkData struct {
	SrcMAC, DstMAC []byte
	EtherType      layers.EthernetType
}

// LinkDissector decodes the Ethernet link layer using gopacket/layers, the
// same decoder the teacher's codec.Decoder wires into its
// DecodingLayerParser. It is the root of the chain (spec.md §4.C3).
type LinkDissector struct{}

func (LinkDissector) ID() packet.ProtocolID { return packet.ProtocolLink }
func (LinkDissector) Name() string          { return "ethernet" }

func (LinkDissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(in, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	pkt.Set(packet.ProtocolLink, &LinkData{
		SrcMAC:    []byte(eth.SrcMAC),
		DstMAC:    []byte(eth.DstMAC),
		EtherType: eth.EthernetType,
	}, nil)
	return eth.Payload, nil
}

// LinkNext picks the IPv4 or IPv6 child by EtherType.
func LinkNext(pkt *packet.Packet, _ []byte) (packet.ProtocolID, bool) {
	data, ok := pkt.Get(packet.ProtocolLink)
	if !ok {
		return 0, false
	}
	ld := data.(*LinkData)
	switch ld.EtherType {
	case layers.EthernetTypeIPv4:
		return packet.ProtocolIPv4, true
	case layers.EthernetTypeIPv6:
		return packet.ProtocolIPv6, true
	default:
		return 0, false
	}
}
