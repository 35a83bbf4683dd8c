package fins

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTransport is a scriptable transport for exercising the client
// dispatcher without sockets.
type fakeTransport struct {
	up         bool
	connectErr error
	frames     [][]byte
	respond    func(frame []byte) ([]byte, error)
}

func (f *fakeTransport) connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.up = true
	return nil
}

func (f *fakeTransport) close() error {
	f.up = false
	return nil
}

func (f *fakeTransport) connected() bool { return f.up }

func (f *fakeTransport) sendReceive(frame []byte) ([]byte, error) {
	copied := make([]byte, len(frame))
	copy(copied, frame)
	f.frames = append(f.frames, copied)
	return f.respond(frame)
}

// okResponse echoes the request header and command with a clean end code and
// the given payload.
func okResponse(frame, payload []byte) []byte {
	resp := make([]byte, 14+len(payload))
	copy(resp, frame[:12])
	copy(resp[14:], payload)
	return resp
}

func newFakeClient(respond func(frame []byte) ([]byte, error)) (*Client, *fakeTransport) {
	ft := &fakeTransport{up: true, respond: respond}
	c := NewClient("test")
	c.t = ft
	return c, ft
}

func TestServiceIDAdvancesPerExchange(t *testing.T) {
	c, ft := newFakeClient(func(frame []byte) ([]byte, error) {
		return okResponse(frame, []byte{0x00, 0x01}), nil
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Read("DM0", 1); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}

	if len(ft.frames) != 3 {
		t.Fatalf("frames sent = %d, want 3", len(ft.frames))
	}
	for i, frame := range ft.frames {
		if got := frame[9]; got != byte(i+1) {
			t.Errorf("frame %d SID = %d, want %d", i, got, i+1)
		}
	}
}

func TestServiceIDWraps(t *testing.T) {
	c, ft := newFakeClient(func(frame []byte) ([]byte, error) {
		return okResponse(frame, []byte{0x00, 0x01}), nil
	})

	c.sid = 255
	if _, err := c.Read("DM0", 1); err != nil {
		t.Fatal(err)
	}
	if got := ft.frames[0][9]; got != 0 {
		t.Errorf("SID after wrap = %d, want 0", got)
	}
}

func TestReadFrameLayout(t *testing.T) {
	c, ft := newFakeClient(func(frame []byte) ([]byte, error) {
		return okResponse(frame, []byte{0x00, 0x2A, 0x00, 0x2B}), nil
	})

	words, err := c.Read("DM1000", 2)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(words) != 2 || words[0] != 42 || words[1] != 43 {
		t.Errorf("Read() = %v, want [42 43]", words)
	}

	frame := ft.frames[0]
	if frame[0] != 0x80 {
		t.Errorf("ICF = %#02x, want 0x80", frame[0])
	}
	if frame[2] != 0x02 {
		t.Errorf("GCT = %#02x, want 0x02", frame[2])
	}
	if cmd := binary.BigEndian.Uint16(frame[10:12]); cmd != CmdMemoryAreaRead {
		t.Errorf("command = %#04x, want %#04x", cmd, CmdMemoryAreaRead)
	}
	wantPayload := []byte{0x02, 0x03, 0xE8, 0x00, 0x00, 0x02}
	for i, b := range wantPayload {
		if frame[12+i] != b {
			t.Errorf("payload[%d] = %#02x, want %#02x", i, frame[12+i], b)
		}
	}
}

func TestAutoConnectOnFirstCommand(t *testing.T) {
	ft := &fakeTransport{respond: func(frame []byte) ([]byte, error) {
		return okResponse(frame, []byte{0x00, 0x01}), nil
	}}
	c := NewClient("test")
	c.t = ft

	if _, err := c.Read("DM0", 1); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !ft.up {
		t.Error("transport not connected after auto-connect command")
	}
}

func TestAutoConnectDisabled(t *testing.T) {
	c := NewClient("test", WithAutoConnect(false))

	_, err := c.Read("DM0", 1)
	if !errors.Is(err, ErrConnection) {
		t.Errorf("Read() on disconnected client = %v, want connection kind", err)
	}
}

func TestReadMultipleLimitCheckedBeforeIO(t *testing.T) {
	c, ft := newFakeClient(func(frame []byte) ([]byte, error) {
		t.Error("transport used despite validation failure")
		return nil, nil
	})

	addrs := make([]string, MaxMultipleRead+1)
	for i := range addrs {
		addrs[i] = "DM0"
	}

	_, err := c.ReadMultiple(addrs)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ReadMultiple(33) = %v, want validation kind", err)
	}
	if len(ft.frames) != 0 {
		t.Errorf("frames sent = %d, want 0", len(ft.frames))
	}
}

func TestReadMultipleResultKeys(t *testing.T) {
	c, _ := newFakeClient(func(frame []byte) ([]byte, error) {
		return okResponse(frame, []byte{0x00, 0x01, 0x00, 0x02}), nil
	})

	got, err := c.ReadMultiple([]string{"DM7", "CIO100.5"})
	if err != nil {
		t.Fatal(err)
	}
	if got["DM0007"] != 1 || got["CIO0100.05"] != 2 {
		t.Errorf("result = %v, want canonical keys DM0007 and CIO0100.05", got)
	}
}

func TestProtocolErrorCarriesOperation(t *testing.T) {
	c, _ := newFakeClient(func(frame []byte) ([]byte, error) {
		resp := okResponse(frame, nil)
		resp[12], resp[13] = 0x11, 0x02
		return resp, nil
	})

	_, err := c.Read("DM1000", 1)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("error = %v, want protocol kind", err)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if fe.Op != "read" || fe.Address != "DM1000" {
		t.Errorf("Op/Address = %q/%q, want read/DM1000", fe.Op, fe.Address)
	}
	if fe.Main != 0x11 || fe.Sub != 0x02 {
		t.Errorf("end codes = %02X/%02X, want 11/02", fe.Main, fe.Sub)
	}
}

func TestRunStopPayloads(t *testing.T) {
	c, ft := newFakeClient(func(frame []byte) ([]byte, error) {
		return okResponse(frame, nil), nil
	})

	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	run := ft.frames[0]
	if cmd := binary.BigEndian.Uint16(run[10:12]); cmd != CmdRun {
		t.Errorf("run command = %#04x", cmd)
	}
	if len(run) != 13 || run[12] != 0x01 {
		t.Errorf("run payload = % X, want 01", run[12:])
	}

	stop := ft.frames[1]
	if cmd := binary.BigEndian.Uint16(stop[10:12]); cmd != CmdStop {
		t.Errorf("stop command = %#04x", cmd)
	}
	if len(stop) != 12 {
		t.Errorf("stop frame length = %d, want bare header", len(stop))
	}
}

func TestExchangesSerialized(t *testing.T) {
	var inFlight, maxInFlight int32
	c, ft := newFakeClient(func(frame []byte) ([]byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return okResponse(frame, []byte{0x00, 0x01}), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Read("DM0", 1); err != nil {
				t.Errorf("Read() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max concurrent exchanges = %d, want 1", got)
	}

	seen := make(map[byte]bool)
	for _, frame := range ft.frames {
		if seen[frame[9]] {
			t.Errorf("SID %d reused", frame[9])
		}
		seen[frame[9]] = true
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := NewClient("test")
	if err := c.Close(); err != nil {
		t.Errorf("Close() on never-connected client = %v", err)
	}

	c, ft := newFakeClient(func(frame []byte) ([]byte, error) {
		return okResponse(frame, nil), nil
	})
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if ft.up {
		t.Error("transport still connected after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestUnsupportedTransport(t *testing.T) {
	c := NewClient("test", WithTransport(Transport("ipx")))
	if err := c.Connect(); !errors.Is(err, ErrConnection) {
		t.Errorf("Connect() = %v, want connection kind", err)
	}
}

// udpEcho runs a one-shot UDP responder on loopback that replies to each
// datagram with a clean response carrying payload.
func udpEcho(t *testing.T, payload []byte) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(okResponse(buf[:n], payload), addr)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestUDPExchange(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00, 0x05}
	port := udpEcho(t, payload)

	c := NewClient("127.0.0.1", WithPort(port), WithTimeout(2*time.Second))
	defer c.Close()

	words, err := c.Read("DM0", 5)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(words) != 5 || words[4] != 5 {
		t.Errorf("Read() = %v, want [1 2 3 4 5]", words)
	}
	if !c.Connected() {
		t.Error("Connected() = false after successful exchange")
	}
}

func TestUDPTimeout(t *testing.T) {
	// A listener that never replies.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	c := NewClient("127.0.0.1", WithPort(port), WithTimeout(100*time.Millisecond))
	defer c.Close()

	_, err = c.Read("DM0", 1)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Read() = %v, want timeout kind", err)
	}
}

func TestTCPExchange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 2048)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			conn.Write(okResponse(buf[:n], []byte{0x12, 0x34}))
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c := NewClient("127.0.0.1", WithPort(port), WithTransport(TransportTCP), WithTimeout(2*time.Second))
	defer c.Close()

	words, err := c.Read("DM0", 1)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(words) != 1 || words[0] != 0x1234 {
		t.Errorf("Read() = %v, want [0x1234]", words)
	}
}

func TestTCPConnectRefused(t *testing.T) {
	// Grab a port, then close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient("127.0.0.1", WithPort(port), WithTransport(TransportTCP), WithTimeout(time.Second))
	if err := c.Connect(); !errors.Is(err, ErrConnection) {
		t.Errorf("Connect() = %v, want connection kind", err)
	}
}
