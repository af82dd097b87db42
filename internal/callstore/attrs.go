package callstore

import (
	"strconv"

	"sipwatch.dev/sipwatch/internal/attr"
)

// DisplayAttributes returns the named, extractable Call fields an
// external consumer can show as a column, sort by, or filter on
// (spec.md §4.C2: "Named extractable fields on messages (title, color,
// length)"). Names line up with internal/callfilter's Attribute
// constants and with Store.SortOption.By so a consumer can drive both
// from the same registry.
func DisplayAttributes() *attr.Registry {
	r := attr.NewRegistry()

	r.Register(attr.Attribute{
		Name: "call_id", Title: "Call-ID", Color: "white", Length: 36,
		Kind: attr.KindString,
		Extract: func(subject any) any {
			return subject.(*Call).CallID
		},
	})
	r.Register(attr.Attribute{
		Name: "state", Title: "State", Color: "cyan", Length: 10,
		Kind: attr.KindEnum,
		Extract: func(subject any) any {
			return subject.(*Call).State.String()
		},
	})
	r.Register(attr.Attribute{
		Name: "created", Title: "Start", Color: "default", Length: 19,
		Kind: attr.KindTime,
		Extract: func(subject any) any {
			return subject.(*Call).Created
		},
	})
	r.Register(attr.Attribute{
		Name: "messages", Title: "Msgs", Color: "default", Length: 5,
		Kind: attr.KindInt,
		Extract: func(subject any) any {
			return len(subject.(*Call).Messages)
		},
	})
	r.Register(attr.Attribute{
		Name: "xcalls", Title: "XCalls", Color: "yellow", Length: 5,
		Kind: attr.KindInt,
		Extract: func(subject any) any {
			return len(subject.(*Call).XCalls)
		},
	})
	return r
}

// FormatAttribute extracts name from call via reg and renders it as a
// display string, or ("", false) if name isn't registered.
func FormatAttribute(reg *attr.Registry, name string, call *Call) (string, bool) {
	v, ok := reg.Extract(name, call)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t), true
	case string:
		return t, true
	case fmtStringer:
		return t.String(), true
	default:
		return "", true
	}
}

type fmtStringer interface {
	String() string
}
