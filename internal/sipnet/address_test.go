package sipnet

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressEqual(t *testing.T) {
	a := NewAddress(netip.MustParseAddr("10.0.0.1"), 5060)
	b := NewAddress(netip.MustParseAddr("10.0.0.1"), 5060)
	c := NewAddress(netip.MustParseAddr("10.0.0.2"), 5060)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestAddressString(t *testing.T) {
	a := NewAddress(netip.MustParseAddr("192.168.1.1"), 5061)
	assert.Equal(t, "192.168.1.1:5061", a.String())

	v6 := NewAddress(netip.MustParseAddr("::1"), 5060)
	assert.Equal(t, "::1:5060", v6.String())
}

func TestPairReversed(t *testing.T) {
	p := Pair{
		Src: NewAddress(netip.MustParseAddr("10.0.0.1"), 5060),
		Dst: NewAddress(netip.MustParseAddr("10.0.0.2"), 5060),
	}
	r := p.Reversed()
	assert.Equal(t, p.Src, r.Dst)
	assert.Equal(t, p.Dst, r.Src)
}

func TestAddressIsValid(t *testing.T) {
	var zero Address
	assert.False(t, zero.IsValid())

	set := NewAddress(netip.MustParseAddr("10.0.0.1"), 0)
	assert.True(t, set.IsValid())
}
