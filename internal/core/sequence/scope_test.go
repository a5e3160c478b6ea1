package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "LOT-", NormalizePrefix("LOT"))
	assert.Equal(t, "LOT-", NormalizePrefix("LOT-"))
	assert.Equal(t, "A-B-", NormalizePrefix("A-B"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("a")
	require.NoError(t, err)
	assert.Equal(t, ModeDay, m)

	m, err = ParseMode(" B ")
	require.NoError(t, err)
	assert.Equal(t, ModeNight, m)

	_, err = ParseMode("C")
	assert.Error(t, err)

	_, err = ParseMode("")
	assert.Error(t, err)
}

func TestMode_SlotRange(t *testing.T) {
	first, last := ModeDay.SlotRange()
	assert.Equal(t, 0, first)
	assert.Equal(t, 4, last)

	first, last = ModeNight.SlotRange()
	assert.Equal(t, 5, first)
	assert.Equal(t, 9, last)
}

func TestKey_Barcode(t *testing.T) {
	assert.Equal(t, "LOT-7", SimpleKey("LOT").Barcode(7))
	assert.Equal(t, "BX-125-1", CompoundKey("BX", "12", ModeNight, 5).Barcode(1))
	assert.Equal(t, "BX-30-999", CompoundKey("BX", "3", ModeDay, 0).Barcode(999))
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "LOT-", SimpleKey("LOT").String())
	assert.Equal(t, "BX/12/B/6", CompoundKey("BX", "12", ModeNight, 6).String())
	assert.False(t, SimpleKey("LOT").Compound())
	assert.True(t, CompoundKey("BX", "12", ModeDay, 0).Compound())
}
