package scheduling

import (
	"fmt"
	"strconv"
)

// TimeSlot is a bookable start time in canonical 24-hour "HH:MM" form.
type TimeSlot string

const (
	Slot0800 TimeSlot = "08:00"
	Slot0930 TimeSlot = "09:30"
	Slot1100 TimeSlot = "11:00"
	Slot1230 TimeSlot = "12:30"
	Slot1400 TimeSlot = "14:00"
	Slot1530 TimeSlot = "15:30"
)

// catalog is ordered by time of day. Every slot sequence returned to a caller
// follows this order.
var catalog = [...]TimeSlot{Slot0800, Slot0930, Slot1100, Slot1230, Slot1400, Slot1530}

var catalogIndex = func() map[TimeSlot]int {
	m := make(map[TimeSlot]int, len(catalog))
	for i, s := range catalog {
		m[s] = i
	}
	return m
}()

// Slots returns the full catalog in day order. The returned slice is a copy.
func Slots() []TimeSlot {
	out := make([]TimeSlot, len(catalog))
	copy(out, catalog[:])
	return out
}

// IsValidSlot reports whether s belongs to the catalog.
func IsValidSlot(s TimeSlot) bool {
	_, ok := catalogIndex[s]
	return ok
}

// ParseSlot converts a raw request value into a catalog slot.
func ParseSlot(raw string) (TimeSlot, error) {
	s := TimeSlot(raw)
	if !IsValidSlot(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, raw)
	}
	return s, nil
}

// Minutes returns the slot start as minutes after midnight, or -1 when the
// value is not a well-formed HH:MM string.
func (s TimeSlot) Minutes() int {
	if len(s) != 5 || s[2] != ':' {
		return -1
	}
	h, err := strconv.Atoi(string(s[:2]))
	if err != nil {
		return -1
	}
	m, err := strconv.Atoi(string(s[3:]))
	if err != nil {
		return -1
	}
	return h*60 + m
}

func (s TimeSlot) String() string { return string(s) }
