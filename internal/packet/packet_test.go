package packet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacketSetGet(t *testing.T) {
	p := New(time.Now(), time.Now())

	type ipData struct{ ttl int }
	p.Set(ProtocolIPv4, &ipData{ttl: 64}, nil)

	v, ok := p.Get(ProtocolIPv4)
	assert.True(t, ok)
	assert.Equal(t, 64, v.(*ipData).ttl)

	_, ok = p.Get(ProtocolTCP)
	assert.False(t, ok)
}

func TestPacketDestroyInvokesFree(t *testing.T) {
	p := New(time.Now(), time.Now())
	freed := false
	p.Set(ProtocolTCP, "reassembly-state", func(data any) {
		freed = true
		assert.Equal(t, "reassembly-state", data)
	})

	p.Destroy()
	assert.True(t, freed)
	assert.False(t, p.Has(ProtocolTCP))
}

func TestPacketAddFrameCopies(t *testing.T) {
	p := New(time.Now(), time.Now())
	b := []byte{1, 2, 3}
	p.AddFrame(b)
	b[0] = 0xff

	assert.Equal(t, byte(1), p.Frames[0][0])
}
