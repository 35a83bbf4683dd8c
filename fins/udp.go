package fins

import (
	"fmt"
	"net"
	"time"

	"github.com/dvasquez01/pyomron-fins/logging"
)

// transport is the blocking send/receive primitive owned by one client
// session. Implementations are not safe for concurrent use; the client's
// dispatcher serializes all access, including connect and close.
type transport interface {
	connect() error
	close() error
	connected() bool
	sendReceive(frame []byte) ([]byte, error)
}

// receiveBufSize bounds one response read. A response is never reassembled
// across reads (see tcpTransport.sendReceive).
const receiveBufSize = 2048

// udpTransport implements FINS over UDP. The socket stays unconnected; the
// controller endpoint is supplied on every send.
type udpTransport struct {
	host    string
	port    int
	timeout time.Duration

	conn    *net.UDPConn
	plcAddr *net.UDPAddr
}

func newUDPTransport(host string, port int, timeout time.Duration) *udpTransport {
	return &udpTransport{host: host, port: port, timeout: timeout}
}

func (t *udpTransport) connect() error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	logging.DebugConnect("FINS/UDP", addr)

	plcAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logging.DebugConnectError("FINS/UDP", addr, err)
		return connectionError(err, "resolve %s", addr)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		logging.DebugConnectError("FINS/UDP", addr, err)
		return connectionError(err, "open UDP socket for %s", addr)
	}

	t.conn = conn
	t.plcAddr = plcAddr
	logging.DebugConnectSuccess("FINS/UDP", addr, "local "+conn.LocalAddr().String())
	return nil
}

// close releases the socket. Close-time errors are suppressed; the
// transport always ends up disconnected.
func (t *udpTransport) close() error {
	if t.conn == nil {
		return nil
	}
	logging.DebugDisconnect("FINS/UDP", t.plcAddr.String(), "close requested")
	t.conn.Close()
	t.conn = nil
	t.plcAddr = nil
	return nil
}

func (t *udpTransport) connected() bool {
	return t.conn != nil
}

// sendReceive sends one frame to the configured endpoint and waits for
// exactly one datagram, bounded by the configured timeout.
func (t *udpTransport) sendReceive(frame []byte) ([]byte, error) {
	if t.timeout > 0 {
		t.conn.SetDeadline(time.Now().Add(t.timeout))
	}

	logging.DebugTX("FINS/UDP", frame)
	if _, err := t.conn.WriteToUDP(frame, t.plcAddr); err != nil {
		return nil, transportError(err, "send")
	}

	buf := make([]byte, receiveBufSize)
	n, _, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, transportError(err, "receive")
	}

	logging.DebugRX("FINS/UDP", buf[:n])
	return buf[:n], nil
}
