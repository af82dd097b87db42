package callfilter

import (
	"github.com/google/gopacket/layers"

	"sipwatch.dev/sipwatch/internal/capture"
)

// ApplyBPF validates expr against linkType/snaplen and, only if it
// compiles, forwards it to every input registered on mgr (spec.md §4.C14
// row: "BPF filter passthrough"; §6: "Filter expression: libpcap BPF
// syntax, passed through to inputs that support it"). Rejecting here
// means a malformed expression never reaches Manager.SetFilter, which
// would otherwise apply-then-rollback across every input for nothing.
func ApplyBPF(mgr *capture.Manager, linkType layers.LinkType, snaplen int, expr string) error {
	if _, err := capture.ValidateFilter(linkType, snaplen, expr); err != nil {
		return err
	}
	return mgr.SetFilter(expr)
}
