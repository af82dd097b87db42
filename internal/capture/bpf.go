package capture

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// ValidateFilter compiles expr as a libpcap BPF expression against linkType
// without needing a live handle, and renders the compiled program as
// human-readable BPF assembly for diagnostics. Used by callfilter.ApplyBPF
// to reject a bad filter before it reaches the capture manager (spec.md
// §4.C8: "applies a filter and returns success/failure; failure leaves the
// previous filter intact").
//
// The libpcap compile step (pcap.CompileBPFFilter) does the expression
// parsing; golang.org/x/net/bpf only disassembles the resulting raw
// instructions into the returned listing, since tcpdump-syntax BPF expressions are
// outside what x/net/bpf itself parses.
func ValidateFilter(linkType layers.LinkType, snaplen int, expr string) (program string, err error) {
	instructions, err := pcap.CompileBPFFilter(linkType, snaplen, expr)
	if err != nil {
		return "", fmt.Errorf("capture: invalid filter %q: %w", expr, err)
	}

	raw := make([]bpf.RawInstruction, len(instructions))
	for i, ins := range instructions {
		raw[i] = bpf.RawInstruction{
			Op: uint16(ins.Code),
			Jt: ins.Jt,
			Jf: ins.Jf,
			K:  ins.K,
		}
	}
	decoded, _ := bpf.Disassemble(raw)
	lines := make([]string, len(decoded))
	for i, ins := range decoded {
		lines[i] = fmt.Sprintf("%03d %s", i, ins.String())
	}
	return strings.Join(lines, "\n"), nil
}
