package fins

import (
	"fmt"
	"net"
	"time"

	"github.com/dvasquez01/pyomron-fins/logging"
)

// tcpTransport implements FINS over a raw TCP stream: bare FINS frames with
// no FINS/TCP encapsulation header, matching controllers and serial bridges
// configured for raw framing.
type tcpTransport struct {
	host    string
	port    int
	timeout time.Duration

	conn net.Conn
}

func newTCPTransport(host string, port int, timeout time.Duration) *tcpTransport {
	return &tcpTransport{host: host, port: port, timeout: timeout}
}

func (t *tcpTransport) connect() error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	logging.DebugConnect("FINS/TCP", addr)

	conn, err := net.DialTimeout("tcp", addr, t.timeout)
	if err != nil {
		logging.DebugConnectError("FINS/TCP", addr, err)
		return connectionError(err, "connect to %s", addr)
	}

	t.conn = conn
	logging.DebugConnectSuccess("FINS/TCP", addr, "local "+conn.LocalAddr().String())
	return nil
}

// close releases the socket. Close-time errors are suppressed; the
// transport always ends up disconnected.
func (t *tcpTransport) close() error {
	if t.conn == nil {
		return nil
	}
	logging.DebugDisconnect("FINS/TCP", fmt.Sprintf("%s:%d", t.host, t.port), "close requested")
	t.conn.Close()
	t.conn = nil
	return nil
}

func (t *tcpTransport) connected() bool {
	return t.conn != nil
}

// sendReceive writes the full frame and reads a single buffered chunk.
// Responses larger than one read are not reassembled; this mirrors the
// single-recv behavior of the original client and is a known limitation
// when very large multi-reads run over TCP.
func (t *tcpTransport) sendReceive(frame []byte) ([]byte, error) {
	if t.timeout > 0 {
		t.conn.SetDeadline(time.Now().Add(t.timeout))
	}

	logging.DebugTX("FINS/TCP", frame)
	if _, err := t.conn.Write(frame); err != nil {
		return nil, transportError(err, "send")
	}

	buf := make([]byte, receiveBufSize)
	n, err := t.conn.Read(buf)
	if err != nil {
		return nil, transportError(err, "receive")
	}

	logging.DebugRX("FINS/TCP", buf[:n])
	return buf[:n], nil
}
