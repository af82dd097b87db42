// Package hep implements HEPv3 (Homer Encapsulation Protocol) frame
// encoding and decoding, used both as a capture output (forwarding
// observed packets to a Homer-compatible collector) and as a capture
// input (receiving frames from another capture agent).
//
// Grounded on the teacher's plugins/reporter/hep (encoder.go, hep.go):
// same chunk layout and FNV-32a flow-stable server routing, generalized
// to also decode (the teacher was send-only) and retargeted from
// core.OutputPacket onto this module's sipnet.Address/Pair.
package hep

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net/netip"
	"time"

	"sipwatch.dev/sipwatch/internal/sipnet"
)

const (
	magic = "HEP3"

	chunkHeaderLen = 6
	vendorHOMER    = uint16(0x0000)
)

// Standard HEPv3 chunk type IDs (vendor 0x0000).
const (
	chunkIPFamily  = uint16(1)
	chunkIPProto   = uint16(2)
	chunkSrcIPv4   = uint16(3)
	chunkDstIPv4   = uint16(4)
	chunkSrcIPv6   = uint16(5)
	chunkDstIPv6   = uint16(6)
	chunkSrcPort   = uint16(7)
	chunkDstPort   = uint16(8)
	chunkTimeSec   = uint16(9)
	chunkTimeUsec  = uint16(10)
	chunkProtoType = uint16(11)
	chunkCaptureID = uint16(12)
	chunkAuthKey   = uint16(14)
	chunkPayload   = uint16(15)
	chunkCorrID    = uint16(17)
	chunkNodeName  = uint16(19)
)

const (
	ipFamilyV4 = uint8(2)
	ipFamilyV6 = uint8(10)
)

// ProtoType values for chunk 11. Only SIP is produced by this dissector,
// but Decode recognizes the others so a mixed Homer deployment's other
// agents don't confuse this listener.
const (
	ProtoTypeSIP  = uint8(1)
	ProtoTypeRTP  = uint8(5)
	ProtoTypeRTCP = uint8(8)
	ProtoTypeJSON = uint8(100)
)

// Frame is one HEPv3 datagram's decoded or to-be-encoded contents.
type Frame struct {
	Src, Dst      sipnet.Address
	Timestamp     time.Time
	ProtoType     uint8
	CaptureID     uint32
	CorrelationID string // typically the SIP Call-ID
	Payload       []byte
}

// EncodeOptions carries the per-deployment knobs that accompany every
// frame sent to a collector (spec.md §6: capture_id / auth_key / node name).
type EncodeOptions struct {
	AuthKey  string
	NodeName string
}

// Encode serializes f into a HEPv3 byte frame.
func Encode(f Frame, opts EncodeOptions) ([]byte, error) {
	buf := make([]byte, 0, 256+len(f.Payload))
	buf = append(buf, magic...)
	buf = append(buf, 0, 0) // length placeholder, backfilled below

	family := ipFamilyV4
	if f.Src.IP.Is6() {
		family = ipFamilyV6
	}
	buf = appendUint8(buf, chunkIPFamily, family)
	buf = appendUint8(buf, chunkIPProto, 17) // UDP; this observer only forwards SIP-bearing traffic

	if family == ipFamilyV4 {
		src4 := f.Src.IP.As4()
		dst4 := f.Dst.IP.As4()
		buf = appendBytes(buf, chunkSrcIPv4, src4[:])
		buf = appendBytes(buf, chunkDstIPv4, dst4[:])
	} else {
		src6 := f.Src.IP.As16()
		dst6 := f.Dst.IP.As16()
		buf = appendBytes(buf, chunkSrcIPv6, src6[:])
		buf = appendBytes(buf, chunkDstIPv6, dst6[:])
	}

	buf = appendUint16(buf, chunkSrcPort, f.Src.Port)
	buf = appendUint16(buf, chunkDstPort, f.Dst.Port)

	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	buf = appendUint32(buf, chunkTimeSec, uint32(ts.Unix()))
	buf = appendUint32(buf, chunkTimeUsec, uint32(ts.Nanosecond()/1_000))

	protoType := f.ProtoType
	if protoType == 0 {
		protoType = ProtoTypeSIP
	}
	buf = appendUint8(buf, chunkProtoType, protoType)
	buf = appendUint32(buf, chunkCaptureID, f.CaptureID)

	if opts.AuthKey != "" {
		buf = appendBytes(buf, chunkAuthKey, []byte(opts.AuthKey))
	}
	if len(f.Payload) > 0 {
		buf = appendBytes(buf, chunkPayload, f.Payload)
	}
	if f.CorrelationID != "" {
		buf = appendBytes(buf, chunkCorrID, []byte(f.CorrelationID))
	}
	if opts.NodeName != "" {
		buf = appendBytes(buf, chunkNodeName, []byte(opts.NodeName))
	}

	if len(buf) > 0xFFFF {
		return nil, fmt.Errorf("hep: frame too large (%d bytes, max 65535)", len(buf))
	}
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))
	return buf, nil
}

// errNotHEP is returned by Decode when data doesn't start with the HEPv3
// magic, so a listener can distinguish "not our frame" from "corrupt frame".
var errNotHEP = fmt.Errorf("hep: missing HEP3 magic")

// Decode parses a HEPv3 frame (spec.md §4.C8: "HEP listener ... decoding
// the HEP v3 encapsulation").
func Decode(data []byte) (Frame, error) {
	var f Frame
	if len(data) < 6 || string(data[:4]) != magic {
		return f, errNotHEP
	}
	total := int(binary.BigEndian.Uint16(data[4:6]))
	if total > len(data) {
		return f, fmt.Errorf("hep: declared length %d exceeds buffer %d", total, len(data))
	}

	var family uint8
	var src4, dst4 [4]byte
	var src6, dst6 [16]byte
	var srcPort, dstPort uint16
	var sec, usec uint32

	off := 6
	for off+chunkHeaderLen <= total {
		chunkType := binary.BigEndian.Uint16(data[off+2 : off+4])
		chunkLen := int(binary.BigEndian.Uint16(data[off+4 : off+6]))
		if chunkLen < chunkHeaderLen || off+chunkLen > total {
			return f, fmt.Errorf("hep: malformed chunk at offset %d", off)
		}
		value := data[off+chunkHeaderLen : off+chunkLen]

		switch chunkType {
		case chunkIPFamily:
			if len(value) == 1 {
				family = value[0]
			}
		case chunkSrcIPv4:
			copy(src4[:], value)
		case chunkDstIPv4:
			copy(dst4[:], value)
		case chunkSrcIPv6:
			copy(src6[:], value)
		case chunkDstIPv6:
			copy(dst6[:], value)
		case chunkSrcPort:
			if len(value) == 2 {
				srcPort = binary.BigEndian.Uint16(value)
			}
		case chunkDstPort:
			if len(value) == 2 {
				dstPort = binary.BigEndian.Uint16(value)
			}
		case chunkTimeSec:
			if len(value) == 4 {
				sec = binary.BigEndian.Uint32(value)
			}
		case chunkTimeUsec:
			if len(value) == 4 {
				usec = binary.BigEndian.Uint32(value)
			}
		case chunkProtoType:
			if len(value) == 1 {
				f.ProtoType = value[0]
			}
		case chunkCaptureID:
			if len(value) == 4 {
				f.CaptureID = binary.BigEndian.Uint32(value)
			}
		case chunkPayload:
			f.Payload = append([]byte(nil), value...)
		case chunkCorrID:
			f.CorrelationID = string(value)
		}
		off += chunkLen
	}

	var srcIP, dstIP netip.Addr
	if family == ipFamilyV6 {
		srcIP, dstIP = netip.AddrFrom16(src6), netip.AddrFrom16(dst6)
	} else {
		srcIP, dstIP = netip.AddrFrom4(src4), netip.AddrFrom4(dst4)
	}
	f.Src = sipnet.NewAddress(srcIP, srcPort)
	f.Dst = sipnet.NewAddress(dstIP, dstPort)
	f.Timestamp = time.Unix(int64(sec), int64(usec)*1000)
	return f, nil
}

// SelectServer picks the flow-stable index into servers for f's 5-tuple,
// per the teacher's FNV-32a hash: same flow always reaches the same
// collector, important for session correlation on the receiving side.
func SelectServer(f Frame, serverCount int) int {
	if serverCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	src16 := f.Src.IP.As16()
	dst16 := f.Dst.IP.As16()
	_, _ = h.Write(src16[:])
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], f.Src.Port)
	_, _ = h.Write(port[:])
	_, _ = h.Write(dst16[:])
	binary.BigEndian.PutUint16(port[:], f.Dst.Port)
	_, _ = h.Write(port[:])
	_, _ = h.Write([]byte{17})
	return int(h.Sum32() % uint32(serverCount))
}

func appendChunkHeader(buf []byte, chunkType uint16, valueLen int) []byte {
	var h [chunkHeaderLen]byte
	binary.BigEndian.PutUint16(h[0:2], vendorHOMER)
	binary.BigEndian.PutUint16(h[2:4], chunkType)
	binary.BigEndian.PutUint16(h[4:6], uint16(chunkHeaderLen+valueLen))
	return append(buf, h[:]...)
}

func appendBytes(buf []byte, chunkType uint16, value []byte) []byte {
	buf = appendChunkHeader(buf, chunkType, len(value))
	return append(buf, value...)
}

func appendUint8(buf []byte, chunkType uint16, value uint8) []byte {
	buf = appendChunkHeader(buf, chunkType, 1)
	return append(buf, value)
}

func appendUint16(buf []byte, chunkType uint16, value uint16) []byte {
	buf = appendChunkHeader(buf, chunkType, 2)
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], value)
	return append(buf, v[:]...)
}

func appendUint32(buf []byte, chunkType uint16, value uint32) []byte {
	buf = appendChunkHeader(buf, chunkType, 4)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], value)
	return append(buf, v[:]...)
}
