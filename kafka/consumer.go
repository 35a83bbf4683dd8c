package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dvasquez01/pyomron-fins/config"
	"github.com/dvasquez01/pyomron-fins/logging"
)

// WriteBatchInterval is how often accumulated write requests are flushed to
// the controllers.
const WriteBatchInterval = 250 * time.Millisecond

// WriteRequest is the JSON structure for incoming write requests. Value may
// be a single number or an array of numbers.
type WriteRequest struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// WriteResponse is the JSON structure for write responses.
type WriteResponse struct {
	PLC          string      `json:"plc"`
	Tag          string      `json:"tag"`
	Value        interface{} `json:"value"`
	RequestID    string      `json:"request_id,omitempty"`
	Success      bool        `json:"success"`
	Error        string      `json:"error,omitempty"`
	Skipped      bool        `json:"skipped,omitempty"`      // request expired before execution
	Deduplicated bool        `json:"deduplicated,omitempty"` // replaced by a newer request for the same tag
	Timestamp    time.Time   `json:"timestamp"`
}

// WriteHandler executes a write to a named tag. The value is the decoded
// JSON payload.
type WriteHandler func(plcName, tagName string, value interface{}) error

// WriteValidator reports whether a tag exists and is write-enabled.
type WriteValidator func(plcName, tagName string) bool

// pendingWrite is a write request waiting for the next batch flush.
type pendingWrite struct {
	request     WriteRequest
	messageTime time.Time
	offset      int64
}

// Consumer consumes write requests from a Kafka topic and applies them to
// the controllers. Requests for the same tag within one batch interval are
// deduplicated, latest wins; superseded and expired requests still get a
// response on the response topic.
type Consumer struct {
	config    *config.KafkaConfig
	namespace string
	producer  *Producer // responses go out through the owning cluster's producer
	reader    *kafka.Reader
	running   bool
	mu        sync.RWMutex

	writeHandler   WriteHandler
	writeValidator WriteValidator

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer creates a write-request consumer bound to one cluster.
func NewConsumer(cfg *config.KafkaConfig, producer *Producer, namespace string) *Consumer {
	return &Consumer{
		config:    cfg,
		namespace: namespace,
		producer:  producer,
		stopChan:  make(chan struct{}),
	}
}

// SetWriteHandler sets the callback for executing write requests.
func (c *Consumer) SetWriteHandler(handler WriteHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeHandler = handler
}

// SetWriteValidator sets the callback for validating write requests.
func (c *Consumer) SetWriteValidator(validator WriteValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeValidator = validator
}

// Start begins consuming write requests. It errors when no write topic is
// configured; the manager only creates consumers for clusters that have one.
func (c *Consumer) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.config.WriteTopic == "" {
		c.mu.Unlock()
		return fmt.Errorf("no write topic configured for cluster '%s'", c.config.Name)
	}

	group := c.config.GetConsumerGroup(c.namespace)
	logConsumer("starting consumer for topic '%s' with group '%s'", c.config.WriteTopic, group)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.config.Brokers,
		Topic:          c.config.WriteTopic,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        100 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
		Dialer:         c.producer.createDialer(),
	})

	c.reader = reader
	c.running = true
	c.stopChan = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consumeLoop()
	return nil
}

// Stop stops the consumer, flushing any accumulated write requests first.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	reader := c.reader
	c.reader = nil
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		logConsumer("consumer stop timeout for cluster '%s'", c.config.Name)
	}

	if reader != nil {
		reader.Close()
	}
}

// IsRunning returns whether the consumer is running.
func (c *Consumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// consumeLoop accumulates write requests and flushes them on a fixed
// interval, deduplicating repeated writes to the same tag.
func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(WriteBatchInterval)
	defer ticker.Stop()

	pending := make(map[string]pendingWrite)
	var discarded []pendingWrite

	for {
		select {
		case <-c.stopChan:
			if len(pending) > 0 || len(discarded) > 0 {
				c.processBatch(pending, discarded)
			}
			return

		case <-ticker.C:
			if len(pending) > 0 || len(discarded) > 0 {
				c.processBatch(pending, discarded)
				pending = make(map[string]pendingWrite)
				discarded = nil
			}

		default:
			c.mu.RLock()
			reader := c.reader
			running := c.running
			c.mu.RUnlock()

			if !running || reader == nil {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			msg, err := reader.FetchMessage(ctx)
			cancel()
			if err != nil {
				continue
			}

			var req WriteRequest
			if err := json.Unmarshal(msg.Value, &req); err != nil {
				logConsumer("JSON parse error at offset %d: %v", msg.Offset, err)
				c.commitMessage(reader, msg)
				continue
			}

			key := string(msg.Key)
			if key == "" {
				key = req.PLC + "." + req.Tag
			}

			if existing, exists := pending[key]; exists {
				discarded = append(discarded, existing)
			}
			pending[key] = pendingWrite{
				request:     req,
				messageTime: msg.Time,
				offset:      msg.Offset,
			}

			c.commitMessage(reader, msg)
		}
	}
}

// processBatch executes the surviving write requests and responds to the
// superseded ones.
func (c *Consumer) processBatch(pending map[string]pendingWrite, discarded []pendingWrite) {
	c.mu.RLock()
	handler := c.writeHandler
	validator := c.writeValidator
	c.mu.RUnlock()

	now := time.Now()
	maxAge := c.config.GetWriteMaxAge()
	logConsumer("processing batch: %d to execute, %d deduplicated", len(pending), len(discarded))

	for _, pw := range discarded {
		req := pw.request
		c.sendResponse(WriteResponse{
			PLC:          req.PLC,
			Tag:          req.Tag,
			Value:        req.Value,
			RequestID:    req.RequestID,
			Success:      false,
			Error:        "request superseded by newer write to same tag",
			Deduplicated: true,
			Timestamp:    now,
		})
	}

	for key, pw := range pending {
		req := pw.request

		if age := now.Sub(pw.messageTime); age > maxAge {
			logConsumer("skipping stale write for %s (age %v)", key, age.Round(time.Millisecond))
			c.sendResponse(WriteResponse{
				PLC:       req.PLC,
				Tag:       req.Tag,
				Value:     req.Value,
				RequestID: req.RequestID,
				Success:   false,
				Error:     fmt.Sprintf("request expired (age: %v, max: %v)", age.Round(time.Millisecond), maxAge),
				Skipped:   true,
				Timestamp: now,
			})
			continue
		}

		if validator != nil && !validator(req.PLC, req.Tag) {
			c.sendResponse(WriteResponse{
				PLC:       req.PLC,
				Tag:       req.Tag,
				Value:     req.Value,
				RequestID: req.RequestID,
				Success:   false,
				Error:     "tag is not writable",
				Timestamp: now,
			})
			continue
		}

		var writeErr error
		if handler != nil {
			writeErr = handler(req.PLC, req.Tag, req.Value)
		} else {
			writeErr = fmt.Errorf("no write handler configured")
		}
		if writeErr != nil {
			logConsumer("write error for %s: %v", key, writeErr)
		}

		resp := WriteResponse{
			PLC:       req.PLC,
			Tag:       req.Tag,
			Value:     req.Value,
			RequestID: req.RequestID,
			Success:   writeErr == nil,
			Timestamp: now,
		}
		if writeErr != nil {
			resp.Error = writeErr.Error()
		}
		c.sendResponse(resp)
	}
}

// sendResponse publishes a write response to the response topic.
func (c *Consumer) sendResponse(resp WriteResponse) {
	if c.producer == nil || c.producer.GetStatus() != StatusConnected {
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := []byte(resp.PLC + "." + resp.Tag)
	if err := c.producer.Produce(ctx, c.config.ResponseTopic(), key, payload); err != nil {
		logConsumer("failed to publish response: %v", err)
	}
}

// commitMessage commits a message offset.
func (c *Consumer) commitMessage(reader *kafka.Reader, msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := reader.CommitMessages(ctx, msg); err != nil {
		logConsumer("failed to commit offset %d: %v", msg.Offset, err)
	}
}

func logConsumer(format string, args ...interface{}) {
	logging.DebugLog("KAFKA", "[consumer] "+format, args...)
}
