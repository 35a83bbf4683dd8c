package fins

import (
	"encoding/binary"
	"strings"
)

// MaxMultipleRead is the FINS limit on addresses per multiple memory area
// read command.
const MaxMultipleRead = 32

// buildReadRequest builds a memory area read payload: address bytes plus a
// big-endian word count.
func buildReadRequest(addr Address, count uint16) []byte {
	data := make([]byte, 6)
	copy(data, addr.Bytes())
	binary.BigEndian.PutUint16(data[4:6], count)
	return data
}

// buildWriteRequest builds a memory area write payload: address bytes, word
// count, then each value as a big-endian word.
func buildWriteRequest(addr Address, values []uint16) []byte {
	data := make([]byte, 6+2*len(values))
	copy(data, addr.Bytes())
	binary.BigEndian.PutUint16(data[4:6], uint16(len(values)))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[6+2*i:8+2*i], v)
	}
	return data
}

// buildFillRequest builds a memory area fill payload: address bytes, word
// count, then the fill value.
func buildFillRequest(addr Address, value uint16, count uint16) []byte {
	data := make([]byte, 8)
	copy(data, addr.Bytes())
	binary.BigEndian.PutUint16(data[4:6], count)
	binary.BigEndian.PutUint16(data[6:8], value)
	return data
}

// buildTransferRequest builds a memory area transfer payload: source and
// destination address bytes, then the word count.
func buildTransferRequest(src, dst Address, count uint16) []byte {
	data := make([]byte, 10)
	copy(data[0:4], src.Bytes())
	copy(data[4:8], dst.Bytes())
	binary.BigEndian.PutUint16(data[8:10], count)
	return data
}

// buildMultipleReadRequest builds a multiple memory area read payload: the
// address count byte followed by each address's 4-byte encoding.
func buildMultipleReadRequest(addrs []Address) []byte {
	data := make([]byte, 1, 1+4*len(addrs))
	data[0] = byte(len(addrs))
	for _, a := range addrs {
		data = append(data, a.Bytes()...)
	}
	return data
}

// parseWords decodes big-endian word pairs from a response payload. A
// trailing odd byte is dropped, not an error.
func parseWords(data []byte) []uint16 {
	words := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		words = append(words, binary.BigEndian.Uint16(data[i:i+2]))
	}
	return words
}

// parseMultipleRead matches response words to the requested addresses
// positionally, keyed by each address's canonical textual form. Addresses
// with no corresponding response bytes are omitted.
func parseMultipleRead(addrs []Address, data []byte) map[string]uint16 {
	result := make(map[string]uint16, len(addrs))
	offset := 0
	for _, a := range addrs {
		if offset+1 >= len(data) {
			break
		}
		result[a.String()] = binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
	}
	return result
}

// CPUUnitInfo describes the controller model and firmware version as
// reported by a controller data read.
type CPUUnitInfo struct {
	Model   string
	Version string
}

// parseCPUUnitInfo decodes the model and version fields. Responses shorter
// than 40 bytes yield the zero value, not an error.
func parseCPUUnitInfo(data []byte) CPUUnitInfo {
	if len(data) < 40 {
		return CPUUnitInfo{}
	}
	return CPUUnitInfo{
		Model:   strings.TrimSpace(asciiString(data[0:20])),
		Version: strings.TrimSpace(asciiString(data[20:40])),
	}
}

// asciiString keeps printable ASCII and drops everything else; controller
// identity fields are padded with NULs or spaces.
func asciiString(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			out = append(out, c)
		}
	}
	return string(out)
}

// ControllerStatus holds the status flags from byte 0 of a controller
// status read.
type ControllerStatus struct {
	RunMode       bool
	ProgramMode   bool
	FatalError    bool
	NonFatalError bool
}

// parseControllerStatus decodes the flag bits. An empty response yields the
// zero value, not an error.
func parseControllerStatus(data []byte) ControllerStatus {
	if len(data) < 1 {
		return ControllerStatus{}
	}
	b := data[0]
	return ControllerStatus{
		RunMode:       b&0x01 != 0,
		ProgramMode:   b&0x02 != 0,
		FatalError:    b&0x40 != 0,
		NonFatalError: b&0x80 != 0,
	}
}

// Clock holds the controller real-time clock fields. The wire format is raw
// integer bytes, not BCD; only the year gets the century rule applied on
// read.
type Clock struct {
	Year      int // full year; wire carries the low two digits
	Month     int
	Day       int
	Hour      int
	Minute    int
	Second    int
	DayOfWeek int
}

// parseClock decodes a clock read response. Years below 50 are placed in
// the 2000s, the rest in the 1900s. Short responses yield the zero value.
func parseClock(data []byte) Clock {
	if len(data) < 7 {
		return Clock{}
	}
	year := int(data[0])
	if year < 50 {
		year += 2000
	} else {
		year += 1900
	}
	return Clock{
		Year:      year,
		Month:     int(data[1]),
		Day:       int(data[2]),
		Hour:      int(data[3]),
		Minute:    int(data[4]),
		Second:    int(data[5]),
		DayOfWeek: int(data[6]),
	}
}

// buildClockWriteRequest builds a clock write payload: seven raw bytes with
// the year reduced to its last two digits.
func buildClockWriteRequest(c Clock) []byte {
	return []byte{
		byte(c.Year % 100),
		byte(c.Month),
		byte(c.Day),
		byte(c.Hour),
		byte(c.Minute),
		byte(c.Second),
		byte(c.DayOfWeek),
	}
}
