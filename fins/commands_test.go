package fins

import (
	"bytes"
	"testing"
)

func mustParse(t *testing.T, s string) Address {
	t.Helper()
	a, err := ParseAddress(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestBuildReadRequest(t *testing.T) {
	got := buildReadRequest(mustParse(t, "DM1000"), 5)
	want := []byte{0x02, 0x03, 0xE8, 0x00, 0x00, 0x05}
	if !bytes.Equal(got, want) {
		t.Errorf("buildReadRequest() = % X, want % X", got, want)
	}
}

func TestBuildWriteRequest(t *testing.T) {
	got := buildWriteRequest(mustParse(t, "DM10"), []uint16{0x1234, 0x0001})
	want := []byte{0x02, 0x00, 0x0A, 0x00, 0x00, 0x02, 0x12, 0x34, 0x00, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("buildWriteRequest() = % X, want % X", got, want)
	}
}

func TestBuildFillRequest(t *testing.T) {
	got := buildFillRequest(mustParse(t, "WR0"), 0xABCD, 100)
	want := []byte{0x31, 0x00, 0x00, 0x00, 0x00, 0x64, 0xAB, 0xCD}
	if !bytes.Equal(got, want) {
		t.Errorf("buildFillRequest() = % X, want % X", got, want)
	}
}

func TestBuildTransferRequest(t *testing.T) {
	got := buildTransferRequest(mustParse(t, "DM0"), mustParse(t, "DM100"), 10)
	want := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x64, 0x00,
		0x00, 0x0A,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("buildTransferRequest() = % X, want % X", got, want)
	}
}

func TestBuildMultipleReadRequest(t *testing.T) {
	got := buildMultipleReadRequest([]Address{
		mustParse(t, "DM1000"),
		mustParse(t, "CIO100.05"),
	})
	want := []byte{
		0x02,
		0x02, 0x03, 0xE8, 0x00,
		0x30, 0x00, 0x64, 0x05,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("buildMultipleReadRequest() = % X, want % X", got, want)
	}
}

func TestParseWords(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []uint16
	}{
		{"empty", nil, nil},
		{"two words", []byte{0x00, 0x2A, 0x12, 0x34}, []uint16{42, 0x1234}},
		{"odd trailing byte dropped", []byte{0x00, 0x01, 0xFF}, []uint16{1}},
		{"single byte dropped", []byte{0x7F}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseWords(tt.data)
			if len(got) != len(tt.want) {
				t.Fatalf("parseWords() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("word[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseMultipleRead(t *testing.T) {
	addrs := []Address{
		mustParse(t, "DM1000"),
		mustParse(t, "DM1001"),
		mustParse(t, "CIO100"),
	}

	got := parseMultipleRead(addrs, []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03})
	if len(got) != 3 {
		t.Fatalf("result size = %d, want 3", len(got))
	}
	if got["DM1000"] != 1 || got["DM1001"] != 2 || got["CIO0100"] != 3 {
		t.Errorf("result = %v", got)
	}
}

func TestParseMultipleReadShortData(t *testing.T) {
	addrs := []Address{
		mustParse(t, "DM0"),
		mustParse(t, "DM1"),
		mustParse(t, "DM2"),
	}

	// Only enough bytes for the first address; the rest are omitted.
	got := parseMultipleRead(addrs, []byte{0x00, 0x07, 0x00})
	if len(got) != 1 {
		t.Fatalf("result size = %d, want 1", len(got))
	}
	if got["DM0000"] != 7 {
		t.Errorf("result = %v", got)
	}
}

func TestParseCPUUnitInfo(t *testing.T) {
	data := make([]byte, 40)
	copy(data[0:], "CJ2M-CPU33")
	copy(data[20:], "2.0")

	info := parseCPUUnitInfo(data)
	if info.Model != "CJ2M-CPU33" {
		t.Errorf("Model = %q, want CJ2M-CPU33", info.Model)
	}
	if info.Version != "2.0" {
		t.Errorf("Version = %q, want 2.0", info.Version)
	}
}

func TestParseCPUUnitInfoShort(t *testing.T) {
	if got := parseCPUUnitInfo(make([]byte, 39)); got != (CPUUnitInfo{}) {
		t.Errorf("short response = %+v, want zero value", got)
	}
}

func TestParseControllerStatus(t *testing.T) {
	tests := []struct {
		name string
		b    byte
		want ControllerStatus
	}{
		{"run", 0x01, ControllerStatus{RunMode: true}},
		{"program", 0x02, ControllerStatus{ProgramMode: true}},
		{"fatal", 0x40, ControllerStatus{FatalError: true}},
		{"non-fatal", 0x80, ControllerStatus{NonFatalError: true}},
		{"run with non-fatal", 0x81, ControllerStatus{RunMode: true, NonFatalError: true}},
		{"all clear", 0x00, ControllerStatus{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseControllerStatus([]byte{tt.b, 0x00}); got != tt.want {
				t.Errorf("parseControllerStatus(%#02x) = %+v, want %+v", tt.b, got, tt.want)
			}
		})
	}

	if got := parseControllerStatus(nil); got != (ControllerStatus{}) {
		t.Errorf("empty response = %+v, want zero value", got)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantYear int
	}{
		{"2026", []byte{26, 8, 24, 12, 30, 45, 1}, 2026},
		{"century boundary low", []byte{49, 1, 1, 0, 0, 0, 0}, 2049},
		{"century boundary high", []byte{50, 1, 1, 0, 0, 0, 0}, 1950},
		{"1999", []byte{99, 1, 1, 0, 0, 0, 0}, 1999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseClock(tt.data)
			if c.Year != tt.wantYear {
				t.Errorf("Year = %d, want %d", c.Year, tt.wantYear)
			}
		})
	}

	c := parseClock([]byte{26, 8, 24, 12, 30, 45, 1})
	if c.Month != 8 || c.Day != 24 || c.Hour != 12 || c.Minute != 30 || c.Second != 45 || c.DayOfWeek != 1 {
		t.Errorf("parseClock() = %+v", c)
	}

	if got := parseClock([]byte{26, 8}); got != (Clock{}) {
		t.Errorf("short response = %+v, want zero value", got)
	}
}

func TestBuildClockWriteRequest(t *testing.T) {
	got := buildClockWriteRequest(Clock{
		Year: 2026, Month: 8, Day: 24,
		Hour: 12, Minute: 30, Second: 45, DayOfWeek: 1,
	})
	want := []byte{26, 8, 24, 12, 30, 45, 1}
	if !bytes.Equal(got, want) {
		t.Errorf("buildClockWriteRequest() = % X, want % X", got, want)
	}
}
