package fins

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Address identifies a word, or a single bit within a word, in controller
// memory. Immutable once built; construct via ParseAddress or NewAddress.
type Address struct {
	Area string // memory area identifier, e.g. "DM", "CIO"
	Word uint16 // word offset within the area
	Bit  int    // bit 0-15 within the word, or -1 for word access
}

// Pattern: DM1000, CIO100.05, WR200
var addrPattern = regexp.MustCompile(`^([A-Z]+)(\d+)(?:\.(\d+))?$`)

// ParseAddress parses a textual memory reference of the form
// <AREA><address>[.<bit>], e.g. "DM1000" or "CIO100.05". The area
// identifier is case-insensitive; surrounding whitespace is ignored.
func ParseAddress(text string) (Address, error) {
	s := strings.ToUpper(strings.TrimSpace(text))

	m := addrPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, validationErrorf("invalid address format: %q", text)
	}

	area := m[1]
	if _, ok := memoryAreas[area]; !ok {
		return Address{}, validationErrorf("unknown memory area: %s", area)
	}

	word, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return Address{}, validationErrorf("word address out of range: %s", m[2])
	}

	bit := -1
	if m[3] != "" {
		b, err := strconv.ParseUint(m[3], 10, 8)
		if err != nil || b > 15 {
			return Address{}, validationErrorf("bit number must be 0-15, got %s", m[3])
		}
		bit = int(b)
	}

	return Address{Area: area, Word: uint16(word), Bit: bit}, nil
}

// NewAddress constructs an Address directly. Pass bit -1 for word access.
func NewAddress(area string, word uint16, bit int) (Address, error) {
	if _, ok := memoryAreas[area]; !ok {
		return Address{}, validationErrorf("unknown memory area: %s", area)
	}
	if bit < -1 || bit > 15 {
		return Address{}, validationErrorf("bit number must be 0-15, got %d", bit)
	}
	return Address{Area: area, Word: word, Bit: bit}, nil
}

// Bytes returns the 4-byte wire encoding used by every memory command:
// area code, word address high byte, word address low byte, bit number
// (zero for word access).
func (a Address) Bytes() []byte {
	bit := byte(0)
	if a.Bit >= 0 {
		bit = byte(a.Bit)
	}
	return []byte{memoryAreas[a.Area], byte(a.Word >> 8), byte(a.Word), bit}
}

// String renders the canonical textual form: the word address zero-padded
// to four digits and, for bit access, the bit zero-padded to two.
// ParseAddress applied to the result yields an identical Address.
func (a Address) String() string {
	if a.Bit >= 0 {
		return fmt.Sprintf("%s%04d.%02d", a.Area, a.Word, a.Bit)
	}
	return fmt.Sprintf("%s%04d", a.Area, a.Word)
}
