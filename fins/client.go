package fins

import (
	"fmt"
	"sync"
	"time"

	"github.com/dvasquez01/pyomron-fins/logging"
)

// Client is a FINS client session bound to one controller endpoint.
//
// All command exchanges on a session are serialized: the dispatch mutex is
// held from (lazy) connect through response decode, so concurrent callers
// never interleave bytes on the wire and the service ID advances exactly
// once per exchange. Close the client when done; there is no implicit
// cleanup.
type Client struct {
	host          string
	port          int
	transportKind Transport
	timeout       time.Duration
	autoConnect   bool

	// FINS header overrides
	icf           byte
	dna, da1, da2 byte
	sna, sa1, sa2 byte

	mu  sync.Mutex // serializes every exchange, connect through decode
	t   transport  // exclusively owned; nil until first connect
	sid byte       // service ID counter, wraps mod 256; guarded by mu
}

// Option is a functional option for configuring a client.
type Option func(*Client)

// WithTransport selects UDP (the default) or TCP.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transportKind = t }
}

// WithPort sets the controller port.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithTimeout bounds each socket connect, send and receive.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithAutoConnect controls lazy connection on the first command. Enabled by
// default; when disabled, commands on a disconnected client fail with a
// connection error.
func WithAutoConnect(enabled bool) Option {
	return func(c *Client) { c.autoConnect = enabled }
}

// WithICF overrides the information control field byte.
func WithICF(icf byte) Option {
	return func(c *Client) { c.icf = icf }
}

// WithDestination sets the destination network, node and unit addresses.
func WithDestination(network, node, unit byte) Option {
	return func(c *Client) { c.dna, c.da1, c.da2 = network, node, unit }
}

// WithSource sets the source network, node and unit addresses.
func WithSource(network, node, unit byte) Option {
	return func(c *Client) { c.sna, c.sa1, c.sa2 = network, node, unit }
}

// NewClient creates a client for the controller at host. No I/O happens
// until Connect or, with auto-connect enabled, the first command.
func NewClient(host string, opts ...Option) *Client {
	c := &Client{
		host:          host,
		port:          DefaultPort,
		transportKind: TransportUDP,
		timeout:       5 * time.Second,
		autoConnect:   true,
		icf:           0x80,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connectLocked establishes the transport session. Caller holds c.mu.
func (c *Client) connectLocked() error {
	if c.t == nil {
		switch c.transportKind {
		case TransportUDP:
			c.t = newUDPTransport(c.host, c.port, c.timeout)
		case TransportTCP:
			c.t = newTCPTransport(c.host, c.port, c.timeout)
		default:
			return &Error{Kind: KindConnection, msg: fmt.Sprintf("unsupported transport: %q", c.transportKind)}
		}
	}
	if c.t.connected() {
		return nil
	}
	return c.t.connect()
}

// Connect establishes the transport session. Connecting an already
// connected client is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

// Close tears down the transport session. It is idempotent and safe to call
// on a client that never connected. Close serializes with in-flight
// exchanges through the same mutex.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return nil
	}
	return c.t.close()
}

// Connected reports whether the transport session is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t != nil && c.t.connected()
}

// sendCommand performs one request/response exchange: connect if needed,
// advance the service ID, frame, send, receive, decode. The mutex spans the
// whole sequence so at most one command is in flight per session.
func (c *Client) sendCommand(command uint16, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t == nil || !c.t.connected() {
		if !c.autoConnect {
			return nil, &Error{Kind: KindConnection, msg: "not connected"}
		}
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
	}

	c.sid++ // wraps 255 -> 0
	header := Header{
		ICF: c.icf,
		RSV: 0x00,
		GCT: 0x02,
		DNA: c.dna, DA1: c.da1, DA2: c.da2,
		SNA: c.sna, SA1: c.sa1, SA2: c.sa2,
		SID: c.sid,
	}

	logging.DebugLog("FINS", "command 0x%04X SID=%d payload=%d bytes", command, c.sid, len(payload))

	raw, err := c.t.sendReceive(frameBytes(header, command, payload))
	if err != nil {
		return nil, err
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Read reads count consecutive words starting at the given address text.
func (c *Client) Read(address string, count uint16) ([]uint16, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return c.ReadAddress(addr, count)
}

// ReadAddress reads count consecutive words starting at addr.
func (c *Client) ReadAddress(addr Address, count uint16) ([]uint16, error) {
	data, err := c.sendCommand(CmdMemoryAreaRead, buildReadRequest(addr, count))
	if err != nil {
		return nil, opError("read", addr.String(), err)
	}
	return parseWords(data), nil
}

// Write writes the values as consecutive words starting at the given
// address text.
func (c *Client) Write(address string, values []uint16) error {
	addr, err := ParseAddress(address)
	if err != nil {
		return err
	}
	return c.WriteAddress(addr, values)
}

// WriteAddress writes the values as consecutive words starting at addr.
func (c *Client) WriteAddress(addr Address, values []uint16) error {
	if _, err := c.sendCommand(CmdMemoryAreaWrite, buildWriteRequest(addr, values)); err != nil {
		return opError("write", addr.String(), err)
	}
	return nil
}

// ReadMultiple reads up to MaxMultipleRead disparate addresses in one
// command. The result maps each address's canonical textual form to its
// word value, matched positionally in request order.
func (c *Client) ReadMultiple(addresses []string) (map[string]uint16, error) {
	addrs := make([]Address, len(addresses))
	for i, a := range addresses {
		addr, err := ParseAddress(a)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return c.ReadMultipleAddresses(addrs)
}

// ReadMultipleAddresses is ReadMultiple over pre-parsed addresses.
func (c *Client) ReadMultipleAddresses(addrs []Address) (map[string]uint16, error) {
	if len(addrs) > MaxMultipleRead {
		return nil, validationErrorf("at most %d addresses per multiple read, got %d", MaxMultipleRead, len(addrs))
	}
	data, err := c.sendCommand(CmdMultipleMemoryAreaRead, buildMultipleReadRequest(addrs))
	if err != nil {
		return nil, opError("multiple read", "", err)
	}
	return parseMultipleRead(addrs, data), nil
}

// Fill writes value into count consecutive words starting at the given
// address text.
func (c *Client) Fill(address string, value uint16, count uint16) error {
	addr, err := ParseAddress(address)
	if err != nil {
		return err
	}
	if _, err := c.sendCommand(CmdMemoryAreaFill, buildFillRequest(addr, value, count)); err != nil {
		return opError("fill", addr.String(), err)
	}
	return nil
}

// Transfer copies count words from src to dst within controller memory.
func (c *Client) Transfer(src, dst string, count uint16) error {
	srcAddr, err := ParseAddress(src)
	if err != nil {
		return err
	}
	dstAddr, err := ParseAddress(dst)
	if err != nil {
		return err
	}
	if _, err := c.sendCommand(CmdMemoryAreaTransfer, buildTransferRequest(srcAddr, dstAddr, count)); err != nil {
		return opError("transfer", srcAddr.String()+"->"+dstAddr.String(), err)
	}
	return nil
}

// CPUUnitRead queries the controller model and firmware version.
func (c *Client) CPUUnitRead() (CPUUnitInfo, error) {
	data, err := c.sendCommand(CmdControllerDataRead, nil)
	if err != nil {
		return CPUUnitInfo{}, opError("cpu unit read", "", err)
	}
	return parseCPUUnitInfo(data), nil
}

// Status reads the controller status flags.
func (c *Client) Status() (ControllerStatus, error) {
	data, err := c.sendCommand(CmdControllerStatusRead, nil)
	if err != nil {
		return ControllerStatus{}, opError("status read", "", err)
	}
	return parseControllerStatus(data), nil
}

// Run switches the controller to MONITOR mode.
func (c *Client) Run() error {
	if _, err := c.sendCommand(CmdRun, []byte{0x01}); err != nil {
		return opError("run", "", err)
	}
	return nil
}

// Stop switches the controller to PROGRAM mode.
func (c *Client) Stop() error {
	if _, err := c.sendCommand(CmdStop, nil); err != nil {
		return opError("stop", "", err)
	}
	return nil
}

// ReadClock reads the controller real-time clock.
func (c *Client) ReadClock() (Clock, error) {
	data, err := c.sendCommand(CmdClockRead, nil)
	if err != nil {
		return Clock{}, opError("clock read", "", err)
	}
	return parseClock(data), nil
}

// WriteClock sets the controller real-time clock.
func (c *Client) WriteClock(clock Clock) error {
	if _, err := c.sendCommand(CmdClockWrite, buildClockWriteRequest(clock)); err != nil {
		return opError("clock write", "", err)
	}
	return nil
}
