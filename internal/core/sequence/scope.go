// Package sequence provides domain contracts for barcode serial sequences.
// Implementations of Store live in the infrastructure layer.
package sequence

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxSerial is the highest serial a single sequence record can issue.
const MaxSerial = 999

// Mode selects which half of the day/night slot range a compound scope uses.
type Mode string

const (
	// ModeNone marks a simple (prefix-only) scope.
	ModeNone Mode = ""
	// ModeDay uses slots 0..4.
	ModeDay Mode = "A"
	// ModeNight uses slots 5..9.
	ModeNight Mode = "B"
)

// ParseMode converts caller input into a compound Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeDay:
		return ModeDay, nil
	case ModeNight:
		return ModeNight, nil
	default:
		return ModeNone, fmt.Errorf("invalid mode %q: must be A or B", s)
	}
}

// SlotRange returns the first and last day/night slot of the mode.
func (m Mode) SlotRange() (first, last int) {
	if m == ModeNight {
		return 5, 9
	}
	return 0, 4
}

// Key identifies one independent counting sequence.
//
// A simple key carries only a hyphen-normalized prefix. A compound key adds
// the caller's week, the mode and the day/night slot; opening a new slot
// creates a new key rather than resetting an old one.
type Key struct {
	Prefix string
	Week   string
	Mode   Mode
	Slot   int
}

// SimpleKey builds the key of a prefix-only scope.
func SimpleKey(prefix string) Key {
	return Key{Prefix: NormalizePrefix(prefix)}
}

// CompoundKey builds the key of one slot of a compound scope.
func CompoundKey(prefix, week string, mode Mode, slot int) Key {
	return Key{Prefix: prefix, Week: week, Mode: mode, Slot: slot}
}

// Compound reports whether the key belongs to a compound scope.
func (k Key) Compound() bool {
	return k.Mode != ModeNone
}

// String renders the key for logs and error details.
func (k Key) String() string {
	if !k.Compound() {
		return k.Prefix
	}
	return fmt.Sprintf("%s/%s/%s/%d", k.Prefix, k.Week, k.Mode, k.Slot)
}

// Barcode formats a serial issued under this key.
//
//	simple:   LOT-17
//	compound: BX-125-17 (week 12, slot 5)
func (k Key) Barcode(serial int) string {
	if !k.Compound() {
		return k.Prefix + strconv.Itoa(serial)
	}
	return fmt.Sprintf("%s-%s%d-%d", k.Prefix, k.Week, k.Slot, serial)
}

// NormalizePrefix appends the trailing hyphen simple scopes are keyed by.
func NormalizePrefix(prefix string) string {
	if strings.HasSuffix(prefix, "-") {
		return prefix
	}
	return prefix + "-"
}
