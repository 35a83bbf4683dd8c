// Package mqtt provides MQTT publishing for polled controller tag values.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dvasquez01/pyomron-fins/config"
	"github.com/dvasquez01/pyomron-fins/logging"
)

func logMQTT(format string, args ...interface{}) {
	logging.DebugLog("MQTT", format, args...)
}

// TagMessage is the JSON structure published to MQTT.
type TagMessage struct {
	Namespace string      `json:"namespace"`
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Address   string      `json:"address,omitempty"`
	Value     interface{} `json:"value"`
	Writable  bool        `json:"writable"`
	Timestamp string      `json:"timestamp"`
}

// WriteRequest is the JSON structure for incoming write requests. Value may
// be a single number or an array of numbers; each must fit in a 16-bit word.
type WriteRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON structure for write responses.
type WriteResponse struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// WriteHandler executes a write of words to a named tag.
type WriteHandler func(plcName, tagName string, values []uint16) error

// WriteValidator reports whether a tag exists and is write-enabled.
type WriteValidator func(plcName, tagName string) bool

// WordsFromJSON converts a decoded JSON value into controller words. JSON
// numbers arrive as float64; fractions and out-of-range values are rejected.
func WordsFromJSON(value interface{}) ([]uint16, error) {
	toWord := func(v interface{}) (uint16, error) {
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("unsupported value type: %T", v)
		}
		if f != math.Trunc(f) || f < 0 || f > 65535 {
			return 0, fmt.Errorf("value %v out of range for a 16-bit word", f)
		}
		return uint16(f), nil
	}

	switch v := value.(type) {
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty value array")
		}
		words := make([]uint16, len(v))
		for i, item := range v {
			w, err := toWord(item)
			if err != nil {
				return nil, err
			}
			words[i] = w
		}
		return words, nil
	default:
		w, err := toWord(value)
		if err != nil {
			return nil, err
		}
		return []uint16{w}, nil
	}
}

// Publisher handles the MQTT connection and publishes tag values to a
// single broker.
type Publisher struct {
	config    *config.MQTTConfig
	namespace string
	client    pahomqtt.Client
	running   bool
	mu        sync.RWMutex

	// Track last published values to detect changes
	lastValues map[string]interface{}
	lastMu     sync.RWMutex

	writeHandler   WriteHandler
	writeValidator WriteValidator
	plcNames       []string
}

// NewPublisher creates an MQTT publisher for a single broker. The namespace
// is the gateway-wide topic root.
func NewPublisher(cfg *config.MQTTConfig, namespace string) *Publisher {
	return &Publisher{
		config:     cfg,
		namespace:  namespace,
		lastValues: make(map[string]interface{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// rootTopic returns the topic root: namespace plus the optional selector.
func (p *Publisher) rootTopic() string {
	if p.config.Selector != "" {
		return p.namespace + "/" + p.config.Selector
	}
	return p.namespace
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options without holding the lock
	opts := pahomqtt.NewClientOptions()

	if p.config.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	}

	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	logMQTT("Attempting to connect to MQTT broker %s:%d", p.config.Broker, p.config.Port)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logMQTT("MQTT connection timeout")
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		logMQTT("MQTT connection error: %v", token.Error())
		return token.Error()
	}

	logMQTT("Successfully connected to MQTT broker %s:%d", p.config.Broker, p.config.Port)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	// Clear last values to force republish of all values
	p.lastMu.Lock()
	p.lastValues = make(map[string]interface{})
	p.lastMu.Unlock()

	p.subscribeWriteTopics()

	return nil
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	client.Disconnect(500)
}

// BuildTopic constructs the full topic path for a tag.
func (p *Publisher) BuildTopic(plcName, tagName string) string {
	return fmt.Sprintf("%s/%s/tags/%s", p.rootTopic(), plcName, tagName)
}

// Publish sends a tag value to MQTT if it has changed since the last
// publish, or unconditionally when force is set. Returns true if a message
// went out.
func (p *Publisher) Publish(plcName, tagName, address string, value interface{}, writable, force bool) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	cacheKey := fmt.Sprintf("%s/%s", plcName, tagName)

	p.lastMu.RLock()
	lastValue, exists := p.lastValues[cacheKey]
	p.lastMu.RUnlock()

	if exists && !force && fmt.Sprintf("%v", lastValue) == fmt.Sprintf("%v", value) {
		return false
	}

	msg := TagMessage{
		Namespace: p.namespace,
		PLC:       plcName,
		Tag:       tagName,
		Address:   address,
		Value:     value,
		Writable:  writable,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	topic := p.BuildTopic(plcName, tagName)
	token := client.Publish(topic, 1, true, payload)

	if !token.WaitTimeout(2 * time.Second) {
		return false
	}
	if token.Error() != nil {
		return false
	}

	p.lastMu.Lock()
	p.lastValues[cacheKey] = value
	p.lastMu.Unlock()

	return true
}

// Address returns the broker address string.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// SetWriteHandler sets the callback for handling write requests.
func (p *Publisher) SetWriteHandler(handler WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = handler
}

// SetWriteValidator sets the callback for validating write requests.
func (p *Publisher) SetWriteValidator(validator WriteValidator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeValidator = validator
}

// SetPLCNames sets the controller names to subscribe for write requests.
func (p *Publisher) SetPLCNames(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plcNames = names
}

// subscribeWriteTopics subscribes to write topics for all configured
// controllers. Must be called without p.mu held.
func (p *Publisher) subscribeWriteTopics() {
	p.mu.RLock()
	client := p.client
	plcNames := p.plcNames
	p.mu.RUnlock()

	if client == nil || len(plcNames) == 0 {
		return
	}

	for _, plcName := range plcNames {
		topic := fmt.Sprintf("%s/%s/write", p.rootTopic(), plcName)
		token := client.Subscribe(topic, 1, p.handleWriteMessage)
		if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
			logMQTT("Subscribe failed for %s: %v", topic, token.Error())
			continue
		}
		logMQTT("Subscribed to: %s", topic)
	}
}

// handleWriteMessage processes an incoming write request.
func (p *Publisher) handleWriteMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	logMQTT("Received write request on topic: %s", msg.Topic())

	p.mu.RLock()
	handler := p.writeHandler
	validator := p.writeValidator
	p.mu.RUnlock()

	var req WriteRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logMQTT("JSON parse error: %v", err)
		p.publishWriteResponse(client, "", "", nil, fmt.Errorf("invalid JSON: %v", err))
		return
	}

	if validator != nil && !validator(req.PLC, req.Tag) {
		p.publishWriteResponse(client, req.PLC, req.Tag, req.Value,
			fmt.Errorf("tag not writable: %s/%s", req.PLC, req.Tag))
		return
	}

	words, err := WordsFromJSON(req.Value)
	if err != nil {
		logMQTT("Value conversion error: %v", err)
		p.publishWriteResponse(client, req.PLC, req.Tag, req.Value, err)
		return
	}

	if handler == nil {
		p.publishWriteResponse(client, req.PLC, req.Tag, req.Value,
			fmt.Errorf("no write handler configured"))
		return
	}

	writeErr := handler(req.PLC, req.Tag, words)
	if writeErr != nil {
		logMQTT("Write error for %s/%s: %v", req.PLC, req.Tag, writeErr)
	}
	p.publishWriteResponse(client, req.PLC, req.Tag, req.Value, writeErr)
}

// publishWriteResponse publishes a write response.
func (p *Publisher) publishWriteResponse(client pahomqtt.Client, plcName, tagName string, value interface{}, err error) {
	resp := WriteResponse{
		PLC:       plcName,
		Tag:       tagName,
		Value:     value,
		Success:   err == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	payload, _ := json.Marshal(resp)

	responseTopic := fmt.Sprintf("%s/%s/write/response", p.rootTopic(), plcName)
	if plcName == "" {
		responseTopic = fmt.Sprintf("%s/write/response", p.rootTopic())
	}
	token := client.Publish(responseTopic, 1, false, payload)
	token.WaitTimeout(2 * time.Second)
}
