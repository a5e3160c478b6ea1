package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.True(t, Valid(a))
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14], "version nibble")
}

func TestNewSpanID(t *testing.T) {
	s := NewSpanID()
	assert.Len(t, s, 16)
	assert.NotContains(t, s, "-")
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-uuid"))
	assert.True(t, Valid("0190b3d2-7c1e-7abc-8def-0123456789ab"))
}
