package fins

import (
	"encoding/binary"
	"fmt"
)

// Header holds the ten FINS header bytes that precede the command code in
// every request frame.
type Header struct {
	ICF byte // Information Control Field
	RSV byte // Reserved (0)
	GCT byte // Gateway count
	DNA byte // Destination network address
	DA1 byte // Destination node address
	DA2 byte // Destination unit address
	SNA byte // Source network address
	SA1 byte // Source node address
	SA2 byte // Source unit address
	SID byte // Service ID
}

// headerLen is the fixed request header size: ten header bytes plus the
// two-byte command code.
const headerLen = 12

// frameBytes assembles a complete request frame: the 10-byte header, the
// big-endian command code, then the command payload.
func frameBytes(h Header, command uint16, payload []byte) []byte {
	frame := make([]byte, headerLen+len(payload))
	frame[0] = h.ICF
	frame[1] = h.RSV
	frame[2] = h.GCT
	frame[3] = h.DNA
	frame[4] = h.DA1
	frame[5] = h.DA2
	frame[6] = h.SNA
	frame[7] = h.SA1
	frame[8] = h.SA2
	frame[9] = h.SID
	binary.BigEndian.PutUint16(frame[10:12], command)
	copy(frame[12:], payload)
	return frame
}

// Response is the decoded view of one response frame, valid only for the
// exchange that produced it.
type Response struct {
	Command uint16 // echoed command code
	Main    byte   // MRES
	Sub     byte   // SRES
	Data    []byte // payload after the response codes; empty when none
}

// parseResponse validates a raw response frame. Frames shorter than the
// 12-byte header are a transport fault; when at least 14 bytes arrived,
// bytes 12 and 13 are the MRES/SRES pair and any non-zero pair is a
// protocol error carrying both codes.
func parseResponse(raw []byte) (*Response, error) {
	if len(raw) < headerLen {
		return nil, &Error{Kind: KindTransport, msg: fmt.Sprintf("response too short: %d bytes", len(raw))}
	}

	resp := &Response{Command: binary.BigEndian.Uint16(raw[10:12])}
	if len(raw) >= 14 {
		resp.Main = raw[12]
		resp.Sub = raw[13]
		if resp.Main != 0x00 || resp.Sub != 0x00 {
			return nil, protocolError(resp.Main, resp.Sub)
		}
		resp.Data = raw[14:]
	}
	return resp, nil
}
