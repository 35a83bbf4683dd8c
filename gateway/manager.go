// Package gateway provides FINS controller connection management with
// background polling.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvasquez01/pyomron-fins/config"
	"github.com/dvasquez01/pyomron-fins/fins"
	"github.com/dvasquez01/pyomron-fins/logging"
)

// ConnectionStatus represents the state of a controller connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Conn is the controller session surface the manager needs. *fins.Client
// satisfies it.
type Conn interface {
	Connect() error
	Close() error
	Connected() bool
	Read(address string, count uint16) ([]uint16, error)
	Write(address string, values []uint16) error
	ReadMultiple(addresses []string) (map[string]uint16, error)
	CPUUnitRead() (fins.CPUUnitInfo, error)
	Status() (fins.ControllerStatus, error)
	ReadClock() (fins.Clock, error)
}

// dial builds a controller session from configuration. Overridable in tests.
var dial = func(cfg *config.PLCConfig) Conn {
	opts := []fins.Option{
		fins.WithPort(cfg.GetPort()),
		fins.WithTimeout(cfg.GetTimeout()),
		fins.WithAutoConnect(cfg.GetAutoConnect()),
	}
	if cfg.Transport == "tcp" {
		opts = append(opts, fins.WithTransport(fins.TransportTCP))
	}
	if cfg.ICF != 0 {
		opts = append(opts, fins.WithICF(cfg.ICF))
	}
	if cfg.Network != 0 || cfg.Node != 0 || cfg.Unit != 0 {
		opts = append(opts, fins.WithDestination(cfg.Network, cfg.Node, cfg.Unit))
	}
	if cfg.SourceNetwork != 0 || cfg.SourceNode != 0 || cfg.SourceUnit != 0 {
		opts = append(opts, fins.WithSource(cfg.SourceNetwork, cfg.SourceNode, cfg.SourceUnit))
	}
	return fins.NewClient(cfg.Host, opts...)
}

// ManagedPLC represents a controller under management.
type ManagedPLC struct {
	Config    *config.PLCConfig
	Client    Conn
	Info      *fins.CPUUnitInfo
	Values    map[string]*TagValue
	Status    ConnectionStatus
	LastError error
	LastPoll  time.Time
	mu        sync.RWMutex
}

// GetStatus returns the current connection status thread-safely.
func (m *ManagedPLC) GetStatus() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Status
}

// GetError returns the last error thread-safely.
func (m *ManagedPLC) GetError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastError
}

// GetValues returns a copy of the current tag values.
func (m *ManagedPLC) GetValues() map[string]*TagValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]*TagValue, len(m.Values))
	for k, v := range m.Values {
		result[k] = v
	}
	return result
}

// GetInfo returns the cached controller identity, if read.
func (m *ManagedPLC) GetInfo() *fins.CPUUnitInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Info
}

// worker polls a single controller in its own goroutine.
type worker struct {
	plc      *ManagedPLC
	manager  *Manager
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pollRate time.Duration
}

func newWorker(plc *ManagedPLC, manager *Manager, pollRate time.Duration) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		plc:      plc,
		manager:  manager,
		ctx:      ctx,
		cancel:   cancel,
		pollRate: pollRate,
	}
}

func (w *worker) start() {
	w.wg.Add(1)
	go w.pollLoop()
}

func (w *worker) stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *worker) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *worker) poll() {
	plc := w.plc

	w.checkAutoReconnect()

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	cfg := plc.Config
	plc.mu.RUnlock()

	if status != StatusConnected || client == nil || len(cfg.Tags) == 0 {
		return
	}

	// Single-word tags go out as batched multiple-reads; multi-word tags
	// need individual area reads.
	var singles []config.TagConfig
	var multis []config.TagConfig
	for _, tag := range cfg.Tags {
		if tag.GetCount() == 1 {
			singles = append(singles, tag)
		} else {
			multis = append(multis, tag)
		}
	}

	readings := make(map[string]*TagValue, len(cfg.Tags))
	now := time.Now()
	var pollErr error

	for start := 0; start < len(singles); start += fins.MaxMultipleRead {
		end := start + fins.MaxMultipleRead
		if end > len(singles) {
			end = len(singles)
		}
		batch := singles[start:end]

		addrs := make([]string, len(batch))
		for i, tag := range batch {
			addrs[i] = tag.Address
		}

		values, err := client.ReadMultiple(addrs)
		if err != nil {
			pollErr = err
			for _, tag := range batch {
				readings[tag.Name] = &TagValue{Name: tag.Name, Address: tag.Address, Error: err, Updated: now}
			}
			continue
		}

		for _, tag := range batch {
			key, kerr := canonical(tag.Address)
			if kerr != nil {
				readings[tag.Name] = &TagValue{Name: tag.Name, Address: tag.Address, Error: kerr, Updated: now}
				continue
			}
			v, ok := values[key]
			if !ok {
				readings[tag.Name] = &TagValue{
					Name: tag.Name, Address: tag.Address,
					Error:   fmt.Errorf("no value returned for %s", tag.Address),
					Updated: now,
				}
				continue
			}
			readings[tag.Name] = &TagValue{Name: tag.Name, Address: tag.Address, Words: []uint16{v}, Updated: now}
		}
	}

	for _, tag := range multis {
		words, err := client.Read(tag.Address, tag.GetCount())
		if err != nil {
			pollErr = err
			readings[tag.Name] = &TagValue{Name: tag.Name, Address: tag.Address, Error: err, Updated: now}
			continue
		}
		readings[tag.Name] = &TagValue{Name: tag.Name, Address: tag.Address, Words: words, Updated: now}
	}

	// Detect changes against the previous poll and update the cache.
	var changes []ValueChange
	plc.mu.Lock()
	for name, v := range readings {
		old := plc.Values[name]
		if v.Error == nil && (old == nil || old.Error != nil || !equalWords(old.Words, v.Words)) {
			changes = append(changes, ValueChange{
				PLCName: cfg.Name,
				TagName: name,
				Address: v.Address,
				Value:   v.GoValue(),
			})
		}
		plc.Values[name] = v
	}
	plc.LastPoll = now
	prev := plc.Status
	if pollErr != nil {
		plc.LastError = pollErr
		plc.Status = StatusError
	} else {
		plc.LastError = nil
		if plc.Status == StatusError {
			plc.Status = StatusConnected
		}
	}
	newStatus := plc.Status
	plc.mu.Unlock()

	if newStatus != prev {
		w.manager.notifyStatus(cfg.Name, newStatus == StatusConnected, newStatus.String(), pollErr)
	}

	if len(changes) > 0 {
		w.manager.sendChanges(changes)
	}
}

func (w *worker) checkAutoReconnect() {
	plc := w.plc

	plc.mu.RLock()
	status := plc.Status
	enabled := plc.Config.Enabled
	plc.mu.RUnlock()

	if !enabled {
		return
	}
	if status == StatusConnected || status == StatusConnecting {
		return
	}

	w.manager.connectPLC(plc)
}

// Manager manages multiple controller connections and polling.
type Manager struct {
	plcs    map[string]*ManagedPLC
	workers map[string]*worker
	mu      sync.RWMutex

	pollRate      time.Duration
	batchInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onValueChange  func(changes []ValueChange)
	onStatusChange func(plcName string, online bool, status, errMsg string)

	changeChan chan []ValueChange
}

// NewManager creates a controller manager with the given poll rate.
func NewManager(pollRate time.Duration) *Manager {
	if pollRate <= 0 {
		pollRate = time.Second
	}
	return &Manager{
		plcs:          make(map[string]*ManagedPLC),
		workers:       make(map[string]*worker),
		pollRate:      pollRate,
		batchInterval: 100 * time.Millisecond,
		changeChan:    make(chan []ValueChange, 100),
	}
}

// SetOnValueChange sets a callback that fires when tag values change.
func (m *Manager) SetOnValueChange(fn func(changes []ValueChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onValueChange = fn
}

// SetOnStatusChange sets a callback that fires when a controller goes
// online or offline, used for health publishing.
func (m *Manager) SetOnStatusChange(fn func(plcName string, online bool, status, errMsg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatusChange = fn
}

// notifyStatus fires the status callback from whatever goroutine observed
// the transition.
func (m *Manager) notifyStatus(plcName string, online bool, status string, err error) {
	m.mu.RLock()
	fn := m.onStatusChange
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	fn(plcName, online, status, errMsg)
}

// sendChanges hands value changes to the aggregator. The channel is bounded;
// when full the oldest batch is dropped so pollers never block.
func (m *Manager) sendChanges(changes []ValueChange) {
	select {
	case m.changeChan <- changes:
	default:
		select {
		case <-m.changeChan:
		default:
		}
		select {
		case m.changeChan <- changes:
		default:
		}
	}
}

// AddPLC adds a controller to management.
func (m *Manager) AddPLC(cfg *config.PLCConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plcs[cfg.Name]; exists {
		return nil
	}

	plc := &ManagedPLC{
		Config: cfg,
		Status: StatusDisconnected,
		Values: make(map[string]*TagValue),
	}
	m.plcs[cfg.Name] = plc

	if m.ctx != nil {
		w := newWorker(plc, m, m.pollRate)
		m.workers[cfg.Name] = w
		w.start()
	}

	return nil
}

// RemovePLC removes a controller from management and disconnects it.
func (m *Manager) RemovePLC(name string) error {
	m.mu.Lock()
	plc, exists := m.plcs[name]
	w := m.workers[name]
	if exists {
		delete(m.plcs, name)
		delete(m.workers, name)
	}
	m.mu.Unlock()

	if w != nil {
		w.stop()
	}

	if exists && plc.Client != nil {
		plc.Client.Close()
	}
	return nil
}

// connectPLC establishes a connection (called from worker goroutines).
func (m *Manager) connectPLC(plc *ManagedPLC) error {
	plc.mu.Lock()
	if plc.Status == StatusConnecting {
		plc.mu.Unlock()
		return nil
	}
	prev := plc.Status
	plc.Status = StatusConnecting
	plc.LastError = nil
	client := plc.Client
	plc.mu.Unlock()

	if client == nil {
		client = dial(plc.Config)
	}

	if err := client.Connect(); err != nil {
		logging.DebugError("GATEWAY", "connect "+plc.Config.Name, err)
		plc.mu.Lock()
		plc.Client = client
		plc.Status = StatusError
		plc.LastError = err
		plc.mu.Unlock()
		if prev != StatusError {
			m.notifyStatus(plc.Config.Name, false, StatusError.String(), err)
		}
		return err
	}

	// Identity is best-effort; controllers in odd modes may refuse it.
	var info *fins.CPUUnitInfo
	if ident, err := client.CPUUnitRead(); err == nil {
		info = &ident
	}

	plc.mu.Lock()
	plc.Client = client
	plc.Info = info
	plc.Status = StatusConnected
	plc.mu.Unlock()

	logging.DebugLog("GATEWAY", "connected to %s (%s)", plc.Config.Name, plc.Config.Host)
	m.notifyStatus(plc.Config.Name, true, StatusConnected.String(), nil)
	return nil
}

// Connect starts a background connection attempt for the named controller.
func (m *Manager) Connect(name string) error {
	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("PLC not found: %s", name)
	}

	go m.connectPLC(plc)
	return nil
}

// Disconnect closes the connection to the named controller.
func (m *Manager) Disconnect(name string) error {
	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	plc.mu.Lock()
	if plc.Client != nil {
		plc.Client.Close()
		plc.Client = nil
	}
	prev := plc.Status
	plc.Status = StatusDisconnected
	plc.LastError = nil
	plc.Info = nil
	plc.mu.Unlock()

	if prev != StatusDisconnected {
		m.notifyStatus(name, false, StatusDisconnected.String(), nil)
	}
	return nil
}

// GetPLC returns the managed controller with the given name.
func (m *Manager) GetPLC(name string) *ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plcs[name]
}

// ListPLCs returns all managed controllers.
func (m *Manager) ListPLCs() []*ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		result = append(result, plc)
	}
	return result
}

// Start begins background polling for all controllers.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	for name, plc := range m.plcs {
		w := newWorker(plc, m, m.pollRate)
		m.workers[name] = w
		w.start()
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.batchedUpdateLoop()
}

// Stop halts all background polling and disconnects nothing; call
// DisconnectAll separately if sessions should close.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}

	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}

	m.wg.Wait()

	m.mu.Lock()
	m.ctx = nil
	m.cancel = nil
	m.mu.Unlock()
}

// batchedUpdateLoop aggregates changes and fans them out at a bounded rate.
func (m *Manager) batchedUpdateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.batchInterval)
	defer ticker.Stop()

	var pending []ValueChange

	for {
		select {
		case <-m.ctx.Done():
			if len(pending) > 0 {
				m.flushValueChanges(pending)
			}
			return

		case changes := <-m.changeChan:
			pending = append(pending, changes...)

		case <-ticker.C:
			if len(pending) > 0 {
				m.flushValueChanges(pending)
				pending = nil
			}
		}
	}
}

func (m *Manager) flushValueChanges(changes []ValueChange) {
	m.mu.RLock()
	fn := m.onValueChange
	m.mu.RUnlock()
	if fn != nil && len(changes) > 0 {
		fn(changes)
	}
}

// clientFor returns the connected session for the named controller.
func (m *Manager) clientFor(plcName string) (Conn, error) {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("PLC not found: %s", plcName)
	}

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	plc.mu.RUnlock()

	if client == nil || status != StatusConnected {
		return nil, fmt.Errorf("PLC not connected: %s", plcName)
	}
	return client, nil
}

// ReadAdhoc reads count words from an arbitrary address on a connected
// controller, bypassing the tag configuration.
func (m *Manager) ReadAdhoc(plcName, address string, count uint16) ([]uint16, error) {
	client, err := m.clientFor(plcName)
	if err != nil {
		return nil, err
	}
	return client.Read(address, count)
}

// WriteTag writes words to a configured tag. The tag must be marked
// writable.
func (m *Manager) WriteTag(plcName, tagName string, values []uint16) error {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("PLC not found: %s", plcName)
	}

	tag := plc.Config.FindTag(tagName)
	if tag == nil {
		return fmt.Errorf("tag not found: %s/%s", plcName, tagName)
	}
	if !tag.Writable {
		return fmt.Errorf("tag not writable: %s/%s", plcName, tagName)
	}

	client, err := m.clientFor(plcName)
	if err != nil {
		return err
	}
	return client.Write(tag.Address, values)
}

// WriteAdhoc writes words to an arbitrary address on a connected controller.
func (m *Manager) WriteAdhoc(plcName, address string, values []uint16) error {
	client, err := m.clientFor(plcName)
	if err != nil {
		return err
	}
	return client.Write(address, values)
}

// ControllerStatus reads the run/mode flags from a connected controller.
func (m *Manager) ControllerStatus(plcName string) (fins.ControllerStatus, error) {
	client, err := m.clientFor(plcName)
	if err != nil {
		return fins.ControllerStatus{}, err
	}
	return client.Status()
}

// ControllerClock reads the real-time clock from a connected controller.
func (m *Manager) ControllerClock(plcName string) (fins.Clock, error) {
	client, err := m.clientFor(plcName)
	if err != nil {
		return fins.Clock{}, err
	}
	return client.ReadClock()
}

// IsTagWritable reports whether the named tag exists and is writable.
func (m *Manager) IsTagWritable(plcName, tagName string) bool {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	tag := plc.Config.FindTag(tagName)
	return tag != nil && tag.Writable
}

// LoadFromConfig adds all controllers from configuration.
func (m *Manager) LoadFromConfig(cfg *config.Config) {
	for i := range cfg.PLCs {
		m.AddPLC(&cfg.PLCs[i])
	}
}

// ConnectEnabled connects all controllers marked as enabled.
func (m *Manager) ConnectEnabled() {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0)
	for _, plc := range m.plcs {
		if plc.Config.Enabled {
			plcs = append(plcs, plc)
		}
	}
	m.mu.RUnlock()

	for _, plc := range plcs {
		go m.connectPLC(plc)
	}
}

// DisconnectAll disconnects all controllers.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.plcs))
	for name := range m.plcs {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.Disconnect(name)
	}
}

// GetAllCurrentValues returns every cached tag value across all
// controllers, used for the initial publish when a broker connects.
func (m *Manager) GetAllCurrentValues() []ValueChange {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		plcs = append(plcs, plc)
	}
	m.mu.RUnlock()

	var results []ValueChange
	for _, plc := range plcs {
		plc.mu.RLock()
		plcName := plc.Config.Name
		for name, val := range plc.Values {
			if val != nil && val.Error == nil {
				results = append(results, ValueChange{
					PLCName: plcName,
					TagName: name,
					Address: val.Address,
					Value:   val.GoValue(),
				})
			}
		}
		plc.mu.RUnlock()
	}
	return results
}

// canonical normalizes an address string to its canonical textual form, the
// key shape multiple-read results use.
func canonical(address string) (string, error) {
	addr, err := fins.ParseAddress(address)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}
