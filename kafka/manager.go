package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dvasquez01/pyomron-fins/config"
	"github.com/dvasquez01/pyomron-fins/logging"
)

// TagMessage is the JSON structure published to Kafka for tag changes.
type TagMessage struct {
	Namespace string      `json:"namespace"`
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Address   string      `json:"address,omitempty"`
	Value     interface{} `json:"value"`
	Timestamp string      `json:"timestamp"`
}

// HealthMessage is the JSON structure published to Kafka for controller
// health status.
type HealthMessage struct {
	Namespace string `json:"namespace"`
	PLC       string `json:"plc"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// publishJob represents a pending Kafka publish operation.
type publishJob struct {
	producer *Producer
	topic    string
	key      []byte
	payload  []byte
	cacheKey string
	value    interface{}
}

// MaxPublishWorkers is the maximum number of concurrent publish goroutines.
const MaxPublishWorkers = 10

// MaxPublishQueueSize is the maximum number of pending publish jobs.
const MaxPublishQueueSize = 1000

// Manager manages multiple Kafka producer connections and fans tag changes
// out to each cluster's configured topic.
type Manager struct {
	producers  map[string]*Producer
	consumers  map[string]*Consumer
	namespace  string
	mu         sync.RWMutex

	writeHandler   WriteHandler
	writeValidator WriteValidator
	lastValues map[string]interface{} // last published value per cluster/plc/tag
	lastMu     sync.RWMutex

	publishQueue chan publishJob
	wg           sync.WaitGroup
	stopChan     chan struct{}
	started      bool
}

// NewManager creates a Kafka manager.
func NewManager(namespace string) *Manager {
	m := &Manager{
		producers:    make(map[string]*Producer),
		consumers:    make(map[string]*Consumer),
		namespace:    namespace,
		lastValues:   make(map[string]interface{}),
		publishQueue: make(chan publishJob, MaxPublishQueueSize),
		stopChan:     make(chan struct{}),
	}
	m.startWorkers()
	return m
}

func (m *Manager) startWorkers() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < MaxPublishWorkers; i++ {
		m.wg.Add(1)
		go m.publishWorker()
	}
}

// publishWorker drains the publish queue.
func (m *Manager) publishWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopChan:
			return
		case job, ok := <-m.publishQueue:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := job.producer.Produce(ctx, job.topic, job.key, job.payload)
			cancel()

			if err != nil {
				logging.DebugLog("KAFKA", "publish to %s failed: %v", job.producer.Name(), err)
				continue
			}

			m.lastMu.Lock()
			m.lastValues[job.cacheKey] = job.value
			m.lastMu.Unlock()
		}
	}
}

// Shutdown stops the publish workers, write consumers and disconnects all
// producers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	consumers := make([]*Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}

	close(m.stopChan)
	m.wg.Wait()

	for _, p := range m.List() {
		p.Disconnect()
	}
}

// SetWriteHandler sets the write callback applied to all write consumers.
func (m *Manager) SetWriteHandler(handler WriteHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeHandler = handler
	for _, c := range m.consumers {
		c.SetWriteHandler(handler)
	}
}

// SetWriteValidator sets the validation callback applied to all write
// consumers.
func (m *Manager) SetWriteValidator(validator WriteValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeValidator = validator
	for _, c := range m.consumers {
		c.SetWriteValidator(validator)
	}
}

// StartConsumers starts a write-request consumer for every connected
// producer with a write topic configured. Returns the number started.
func (m *Manager) StartConsumers() int {
	m.mu.RLock()
	handler := m.writeHandler
	validator := m.writeValidator
	m.mu.RUnlock()

	started := 0
	for _, p := range m.List() {
		if p.config.WriteTopic == "" || p.GetStatus() != StatusConnected {
			continue
		}

		m.mu.Lock()
		c, exists := m.consumers[p.Name()]
		if !exists {
			c = NewConsumer(p.config, p, m.namespace)
			m.consumers[p.Name()] = c
		}
		m.mu.Unlock()

		c.SetWriteHandler(handler)
		c.SetWriteValidator(validator)
		if err := c.Start(); err != nil {
			logging.DebugLog("KAFKA", "consumer start failed for %s: %v", p.Name(), err)
			continue
		}
		started++
	}
	return started
}

// Add adds a producer to the manager.
func (m *Manager) Add(p *Producer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.producers[p.Name()] = p
}

// Remove removes a producer by name, stopping its write consumer and
// disconnecting it.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	p, exists := m.producers[name]
	if exists {
		delete(m.producers, name)
	}
	c, hasConsumer := m.consumers[name]
	if hasConsumer {
		delete(m.consumers, name)
	}
	m.mu.Unlock()

	if hasConsumer {
		c.Stop()
	}
	if exists {
		p.Disconnect()
	}
}

// Get returns a producer by name.
func (m *Manager) Get(name string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[name]
}

// List returns all producers.
func (m *Manager) List() []*Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		result = append(result, p)
	}
	return result
}

// LoadFromConfig creates producers from configuration.
func (m *Manager) LoadFromConfig(cfgs []config.KafkaConfig) {
	for i := range cfgs {
		m.Add(NewProducer(&cfgs[i]))
	}
}

// ConnectEnabled connects all producers configured as enabled. Returns the
// number connected.
func (m *Manager) ConnectEnabled() int {
	connected := 0
	for _, p := range m.List() {
		if p.config.Enabled && p.GetStatus() != StatusConnected {
			if err := p.Connect(); err == nil {
				connected++
			}
		}
	}
	return connected
}

// PublishTagChange queues a tag change for every connected producer with a
// configured topic. Unchanged values are suppressed per cluster.
func (m *Manager) PublishTagChange(plcName, tagName, address string, value interface{}) {
	msg := TagMessage{
		Namespace: m.namespace,
		PLC:       plcName,
		Tag:       tagName,
		Address:   address,
		Value:     value,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	key := []byte(fmt.Sprintf("%s/%s/%s", m.namespace, plcName, tagName))

	for _, p := range m.List() {
		if p.GetStatus() != StatusConnected || p.config.Topic == "" {
			continue
		}

		cacheKey := fmt.Sprintf("%s|%s|%s", p.Name(), plcName, tagName)

		m.lastMu.RLock()
		last, exists := m.lastValues[cacheKey]
		m.lastMu.RUnlock()

		if exists && fmt.Sprintf("%v", last) == fmt.Sprintf("%v", value) {
			continue
		}

		job := publishJob{
			producer: p,
			topic:    p.config.Topic,
			key:      key,
			payload:  payload,
			cacheKey: cacheKey,
			value:    value,
		}
		select {
		case m.publishQueue <- job:
		default:
			logging.DebugLog("KAFKA", "publish queue full, dropping %s", cacheKey)
		}
	}
}

// PublishHealth queues a controller health message for every connected
// producer with a configured topic.
func (m *Manager) PublishHealth(plcName string, online bool, status, errMsg string) {
	msg := HealthMessage{
		Namespace: m.namespace,
		PLC:       plcName,
		Online:    online,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	key := []byte(fmt.Sprintf("%s/%s/health", m.namespace, plcName))

	for _, p := range m.List() {
		if p.GetStatus() != StatusConnected || p.config.Topic == "" {
			continue
		}

		job := publishJob{
			producer: p,
			topic:    p.config.Topic,
			key:      key,
			payload:  payload,
			cacheKey: fmt.Sprintf("%s|%s|health", p.Name(), plcName),
			value:    online,
		}
		select {
		case m.publishQueue <- job:
		default:
		}
	}
}

// AnyConnected returns true if any producer is connected.
func (m *Manager) AnyConnected() bool {
	for _, p := range m.List() {
		if p.GetStatus() == StatusConnected {
			return true
		}
	}
	return false
}
