package callstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroupMembershipAndFocal(t *testing.T) {
	g := NewGroup()
	g.Add("a")
	g.Add("b")
	g.SetFocal("a")

	assert.True(t, g.Contains("a"))
	assert.True(t, g.Contains("b"))
	assert.False(t, g.Contains("c"))
	assert.Equal(t, "a", g.Focal)

	g.Remove("a")
	assert.False(t, g.Contains("a"))
	assert.Empty(t, g.Focal)
}

func TestNewGroupFromXCallsWalksTransitiveLinks(t *testing.T) {
	a := NewCall("a", time.Time{})
	a.XCalls["b"] = struct{}{}
	b := NewCall("b", time.Time{})
	b.XCalls["c"] = struct{}{}
	c := NewCall("c", time.Time{})

	calls := map[string]*Call{"a": a, "b": b, "c": c}
	g := NewGroupFromXCalls(a, func(id string) (*Call, bool) {
		c, ok := calls[id]
		return c, ok
	})

	assert.True(t, g.Contains("a"))
	assert.True(t, g.Contains("b"))
	assert.True(t, g.Contains("c"))
	assert.Equal(t, "a", g.Focal)
}
