package fins

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestFrameBytes(t *testing.T) {
	h := Header{
		ICF: 0x80,
		GCT: 0x02,
		DNA: 0x01, DA1: 0x0A, DA2: 0x00,
		SNA: 0x01, SA1: 0x0B, SA2: 0x00,
		SID: 0x07,
	}
	frame := frameBytes(h, CmdMemoryAreaRead, []byte{0x02, 0x03, 0xE8, 0x00, 0x00, 0x05})

	want := []byte{
		0x80, 0x00, 0x02,
		0x01, 0x0A, 0x00,
		0x01, 0x0B, 0x00,
		0x07,
		0x01, 0x01,
		0x02, 0x03, 0xE8, 0x00, 0x00, 0x05,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frameBytes() = % X, want % X", frame, want)
	}
}

func TestFrameBytesNoPayload(t *testing.T) {
	frame := frameBytes(Header{ICF: 0x80, GCT: 0x02, SID: 1}, CmdControllerStatusRead, nil)
	if len(frame) != headerLen {
		t.Fatalf("frame length = %d, want %d", len(frame), headerLen)
	}
	if frame[10] != 0x06 || frame[11] != 0x01 {
		t.Errorf("command bytes = %02X %02X, want 06 01", frame[10], frame[11])
	}
}

func TestParseResponseTooShort(t *testing.T) {
	for _, n := range []int{0, 1, 11} {
		_, err := parseResponse(make([]byte, n))
		if err == nil {
			t.Fatalf("parseResponse(%d bytes) succeeded, want error", n)
		}
		if !errors.Is(err, ErrTransport) {
			t.Errorf("parseResponse(%d bytes) error = %v, want transport kind", n, err)
		}
	}
}

func TestParseResponseHeaderOnly(t *testing.T) {
	// 12 or 13 bytes carry no end codes; the frame is accepted with no data.
	for _, n := range []int{12, 13} {
		raw := make([]byte, n)
		raw[10], raw[11] = 0x01, 0x01
		resp, err := parseResponse(raw)
		if err != nil {
			t.Fatalf("parseResponse(%d bytes) error = %v", n, err)
		}
		if resp.Command != CmdMemoryAreaRead {
			t.Errorf("Command = %#04x, want %#04x", resp.Command, CmdMemoryAreaRead)
		}
		if len(resp.Data) != 0 {
			t.Errorf("Data = % X, want empty", resp.Data)
		}
	}
}

func TestParseResponseEndCode(t *testing.T) {
	raw := make([]byte, 14)
	raw[10], raw[11] = 0x01, 0x01
	raw[12], raw[13] = 0x11, 0x02

	_, err := parseResponse(raw)
	if err == nil {
		t.Fatal("parseResponse() succeeded, want end code error")
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("error = %v, want protocol kind", err)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if fe.Main != 0x11 || fe.Sub != 0x02 {
		t.Errorf("end codes = %02X/%02X, want 11/02", fe.Main, fe.Sub)
	}
	if !strings.Contains(err.Error(), "parameter error") {
		t.Errorf("error message %q missing end code description", err.Error())
	}
}

func TestParseResponseEmptyPayload(t *testing.T) {
	raw := make([]byte, 14)
	raw[10], raw[11] = 0x01, 0x02

	resp, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parseResponse() error = %v", err)
	}
	if len(resp.Data) != 0 {
		t.Errorf("Data = % X, want empty for a 14-byte frame", resp.Data)
	}
}

func TestParseResponseOK(t *testing.T) {
	raw := append(make([]byte, 14), 0x00, 0x2A, 0x01, 0x00)
	raw[10], raw[11] = 0x01, 0x01

	resp, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parseResponse() error = %v", err)
	}
	if resp.Main != 0 || resp.Sub != 0 {
		t.Errorf("end codes = %02X/%02X, want 00/00", resp.Main, resp.Sub)
	}
	if !bytes.Equal(resp.Data, []byte{0x00, 0x2A, 0x01, 0x00}) {
		t.Errorf("Data = % X, want 00 2A 01 00", resp.Data)
	}
}
