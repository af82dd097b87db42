package callstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisplayAttributesExtractKnownFields(t *testing.T) {
	reg := DisplayAttributes()
	call := NewCall("a@x", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	call.State = StateInCall
	call.XCalls["b@x"] = struct{}{}

	v, ok := FormatAttribute(reg, "call_id", call)
	assert.True(t, ok)
	assert.Equal(t, "a@x", v)

	v, ok = FormatAttribute(reg, "state", call)
	assert.True(t, ok)
	assert.Equal(t, "IN_CALL", v)

	v, ok = FormatAttribute(reg, "xcalls", call)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = FormatAttribute(reg, "nonexistent", call)
	assert.False(t, ok)
}

func TestDisplayAttributesNamesPreserveRegistrationOrder(t *testing.T) {
	reg := DisplayAttributes()
	assert.Equal(t, []string{"call_id", "state", "created", "messages", "xcalls"}, reg.Names())
}
