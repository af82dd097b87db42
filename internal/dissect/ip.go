package dissect

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

// IPData is the protocol data attached by IPv4Dissector/IPv6Dissector.
type IPData struct {
	Src, Dst sipnet.Address // ports are filled in later by UDP/TCP
	Protocol layers.IPProtocol
	TTL      uint8
}

// IPv4Dissector decodes IPv4 and transparently reassembles fragments via an
// IPv4Reassembler (spec.md §4.C4).
type IPv4Dissector struct {
	Reassembler *IPv4Reassembler
}

func NewIPv4Dissector() *IPv4Dissector {
	return &IPv4Dissector{Reassembler: NewIPv4Reassembler(0)}
}

func (IPv4Dissector) ID() packet.ProtocolID { return packet.ProtocolIPv4 }
func (IPv4Dissector) Name() string          { return "ipv4" }

func (d *IPv4Dissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(in, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}

	srcAddr, _ := addrFromIPv4(ip.SrcIP)
	dstAddr, _ := addrFromIPv4(ip.DstIP)

	fragOffsetBytes := ip.FragOffset * 8
	more := ip.Flags&layers.IPv4MoreFragments != 0
	payload, err := d.Reassembler.Process(srcAddr, dstAddr, uint8(ip.Protocol), ip.Id, ip.TTL, fragOffsetBytes, more, ip.Payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		// Incomplete datagram: hold for more fragments, end this pass
		// of the chain cleanly (no error, no drop counted).
		return nil, nil
	}

	pkt.Set(packet.ProtocolIPv4, &IPData{
		Src:      sipnet.NewAddress(srcAddr, 0),
		Dst:      sipnet.NewAddress(dstAddr, 0),
		Protocol: ip.Protocol,
		TTL:      ip.TTL,
	}, nil)
	return payload, nil
}

// IPNext picks UDP or TCP by IP protocol number.
func IPNext(pkt *packet.Packet, _ []byte) (packet.ProtocolID, bool) {
	data, ok := pkt.Get(packet.ProtocolIPv4)
	if !ok {
		data, ok = pkt.Get(packet.ProtocolIPv6)
		if !ok {
			return 0, false
		}
	}
	ipd := data.(*IPData)
	switch ipd.Protocol {
	case layers.IPProtocolUDP:
		return packet.ProtocolUDP, true
	case layers.IPProtocolTCP:
		return packet.ProtocolTCP, true
	default:
		return 0, false
	}
}

// IPv6Dissector decodes IPv6. No-goal: no fragment reassembly (IPv6
// extension-header fragmentation is out of scope per spec.md §1).
type IPv6Dissector struct{}

func (IPv6Dissector) ID() packet.ProtocolID { return packet.ProtocolIPv6 }
func (IPv6Dissector) Name() string          { return "ipv6" }

func (IPv6Dissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	var ip layers.IPv6
	if err := ip.DecodeFromBytes(in, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	srcIP, _ := sipnetAddrFromBytes(ip.SrcIP)
	dstIP, _ := sipnetAddrFromBytes(ip.DstIP)
	pkt.Set(packet.ProtocolIPv6, &IPData{
		Src:      sipnet.NewAddress(srcIP, 0),
		Dst:      sipnet.NewAddress(dstIP, 0),
		Protocol: ip.NextHeader,
		TTL:      ip.HopLimit,
	}, nil)
	return ip.Payload, nil
}
