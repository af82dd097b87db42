// Package sdp implements the SDP dissector (spec.md §4.C6): session and
// media connection addresses, media format lists, and the handful of
// attributes (rtpmap, rtcp, channel) an observer needs to resolve RTP
// endpoints.
//
// Grounded on sngrep's packet_sdp.c line-by-line "<kind>=<value>" scan
// (see _examples/original_source) reworked into a structured Go parser,
// and on sipcapture/heplify's decoder/correlator.go approach of pulling a
// handful of named fields out of an otherwise-opaque SDP body.
package sdp

import (
	"bufio"
	"strconv"
	"strings"
)

// MediaType is one of the SDP "m=" media types (spec.md §3).
type MediaType string

const (
	MediaAudio       MediaType = "audio"
	MediaVideo       MediaType = "video"
	MediaText        MediaType = "text"
	MediaApplication MediaType = "application"
	MediaMessage     MediaType = "message"
	MediaImage       MediaType = "image"
	MediaUnknown     MediaType = "unknown"
)

func parseMediaType(s string) MediaType {
	switch MediaType(strings.ToLower(s)) {
	case MediaAudio, MediaVideo, MediaText, MediaApplication, MediaMessage, MediaImage:
		return MediaType(strings.ToLower(s))
	default:
		return MediaUnknown
	}
}

// Format is one payload-type entry in a media description's format list.
type Format struct {
	PayloadType int
	Name        string // e.g. "PCMU", "opus"; "" if unresolved
	Alias       string // short display alias, set from a=rtpmap for dynamic types; "" for standard types
}

// Media is one "m=" block and the c=/a= lines that apply to it.
type Media struct {
	Type        MediaType
	Port        int
	RTCPPort    int // defaults to Port+1 unless overridden by an "a=rtcp:" line
	Protocol    string // e.g. "RTP/AVP"
	Address     string // resolved connection address: media-scoped c= or session c=
	Formats     []Format
	Channel     string // MRCP channel id, from "a=channel:"
}

// SessionData is the parsed contents of one SDP body (spec.md §3 "SDP data").
type SessionData struct {
	SessionAddress string // session-scoped "c=" address, if present
	Media          []Media
}

// standardPayloadTypes is the static RFC 3551 table for payload types 0-34
// (spec.md §3: "Standard payload types 0-34 ... have a built-in table").
var standardPayloadTypes = map[int]string{
	0: "PCMU", 3: "GSM", 4: "G723", 5: "DVI4", 6: "DVI4",
	7: "LPC", 8: "PCMA", 9: "G722", 10: "L16", 11: "L16",
	12: "QCELP", 13: "CN", 14: "MPA", 15: "G728", 16: "DVI4",
	17: "DVI4", 18: "G729", 25: "CelB", 26: "JPEG", 28: "nv",
	31: "H261", 32: "MPV", 33: "MP2T", 34: "H263",
}

// Parse scans an SDP body line by line, building session-level and
// per-media connection/format data (spec.md §4.C6).
func Parse(body []byte) *SessionData {
	sess := &SessionData{}
	var current *Media

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) < 2 || line[1] != '=' {
			continue // not a "<kind>=<value>" line; kinds other than c, m and a are not kept in SessionData either
		}
		kind, value := line[0], line[2:]

		switch kind {
		case 'c':
			addr := parseConnectionAddress(value)
			if current != nil {
				current.Address = addr
			} else {
				sess.SessionAddress = addr
			}
		case 'm':
			m := parseMediaLine(value)
			if m.Address == "" {
				m.Address = sess.SessionAddress
			}
			sess.Media = append(sess.Media, m)
			current = &sess.Media[len(sess.Media)-1]
		case 'a':
			if current != nil {
				applyAttribute(current, value)
			}
		}
	}

	// A media-scoped "c=" line seen after the "m=" line above was written
	// directly into sess.Media[i].Address via `current`, since Go slices of
	// structs let us take the address of a live element.
	return sess
}

func parseConnectionAddress(value string) string {
	// "c=<nettype> <addrtype> <connection-address>"
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return ""
	}
	addr := fields[2]
	if slash := strings.IndexByte(addr, '/'); slash >= 0 {
		addr = addr[:slash] // strip TTL/multicast-count suffix
	}
	return addr
}

func parseMediaLine(value string) Media {
	// "m=<media> <port> <proto> <fmt> ..."
	fields := strings.Fields(value)
	m := Media{Type: MediaUnknown}
	if len(fields) < 3 {
		return m
	}
	m.Type = parseMediaType(fields[0])
	if port, err := strconv.Atoi(strings.SplitN(fields[1], "/", 2)[0]); err == nil {
		m.Port = port
		m.RTCPPort = port + 1
	}
	m.Protocol = fields[2]
	for _, f := range fields[3:] {
		pt, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		m.Formats = append(m.Formats, Format{
			PayloadType: pt,
			Name:        standardPayloadTypes[pt],
		})
	}
	return m
}

func applyAttribute(m *Media, value string) {
	name, rest, hasColon := strings.Cut(value, ":")
	switch strings.ToLower(name) {
	case "rtpmap":
		applyRTPMap(m, rest)
	case "rtcp":
		if !hasColon {
			return
		}
		if port, err := strconv.Atoi(strings.Fields(rest)[0]); err == nil {
			m.RTCPPort = port
		}
	case "channel":
		if hasColon {
			m.Channel = strings.TrimSpace(rest)
		}
	}
}

// applyRTPMap assigns a dynamic-payload-type name from an
// "a=rtpmap:<pt> <name>/<clock>[/<channels>]" attribute. Standard types
// (< 96, present in the built-in table) are left untouched (spec.md §4.C6:
// "standard types ignore rtpmap").
func applyRTPMap(m *Media, rest string) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return
	}
	if _, standard := standardPayloadTypes[pt]; standard {
		return
	}
	name := strings.SplitN(fields[1], "/", 2)[0]
	for i := range m.Formats {
		if m.Formats[i].PayloadType == pt {
			m.Formats[i].Name = name
			m.Formats[i].Alias = name
			return
		}
	}
	m.Formats = append(m.Formats, Format{PayloadType: pt, Name: name, Alias: name})
}
