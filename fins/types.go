// Package fins implements a client for the Omron FINS protocol over UDP or
// TCP. It covers memory area read/write/fill/transfer, multiple-area reads,
// controller data and status queries, run/stop control, and clock access.
//
// A Client serializes all command exchanges on its session: at most one
// request is in flight at a time, and the service ID advances by one per
// exchange.
package fins

// DefaultPort is the standard FINS port number.
const DefaultPort = 9600

// Transport selects the wire transport for a client session.
type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
)

// FINS command codes (W227 FINS Commands Reference).
const (
	CmdMemoryAreaRead         uint16 = 0x0101
	CmdMemoryAreaWrite        uint16 = 0x0102
	CmdMemoryAreaFill         uint16 = 0x0103
	CmdMultipleMemoryAreaRead uint16 = 0x0104
	CmdMemoryAreaTransfer     uint16 = 0x0105
	CmdRun                    uint16 = 0x0401
	CmdStop                   uint16 = 0x0402
	CmdControllerDataRead     uint16 = 0x0501
	CmdControllerStatusRead   uint16 = 0x0601
	CmdClockRead              uint16 = 0x0720
	CmdClockWrite             uint16 = 0x0721
)

// memoryAreas maps area identifiers to their one-byte FINS area codes.
// TIM and CNT share the timer/counter PV code.
var memoryAreas = map[string]byte{
	"CIO": 0x30, // CIO area
	"WR":  0x31, // Work area
	"HR":  0x32, // Holding area
	"AR":  0x33, // Auxiliary area
	"DM":  0x02, // Data memory area
	"EM":  0x20, // Extended memory area
	"TIM": 0x09, // Timer area
	"CNT": 0x09, // Counter area
	"DR":  0x2C, // Data register area
	"IR":  0x2D, // Index register area
}

// AreaCode returns the FINS area code for a memory area identifier.
func AreaCode(area string) (byte, bool) {
	code, ok := memoryAreas[area]
	return code, ok
}
