// Package config handles configuration persistence for the finsgate gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete gateway configuration.
type Config struct {
	Namespace string         `yaml:"namespace"` // instance namespace for topic/key isolation
	PollRate  time.Duration  `yaml:"poll_rate"`
	PLCs      []PLCConfig    `yaml:"plcs"`
	MQTT      []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey    []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig  `yaml:"kafka,omitempty"`
	Web       WebConfig      `yaml:"web"`
}

// PLCConfig holds one controller endpoint and its polled tags.
type PLCConfig struct {
	Name      string        `yaml:"name"`
	Enabled   bool          `yaml:"enabled"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port,omitempty"`      // default 9600
	Transport string        `yaml:"transport,omitempty"` // "udp" (default) or "tcp"
	Timeout   time.Duration `yaml:"timeout,omitempty"`

	// AutoConnect uses a pointer to distinguish "not set" (default true)
	// from an explicit false.
	AutoConnect *bool `yaml:"auto_connect,omitempty"`

	// FINS header overrides. Zero values match the protocol defaults
	// except ICF, where 0 means "use 0x80".
	ICF           byte `yaml:"icf,omitempty"`
	Network       byte `yaml:"network,omitempty"`     // destination network (DNA)
	Node          byte `yaml:"node,omitempty"`        // destination node (DA1)
	Unit          byte `yaml:"unit,omitempty"`        // destination unit (DA2)
	SourceNetwork byte `yaml:"src_network,omitempty"` // SNA
	SourceNode    byte `yaml:"src_node,omitempty"`    // SA1
	SourceUnit    byte `yaml:"src_unit,omitempty"`    // SA2

	Tags []TagConfig `yaml:"tags,omitempty"`
}

// GetAutoConnect returns the effective auto-connect setting.
func (p *PLCConfig) GetAutoConnect() bool {
	if p.AutoConnect == nil {
		return true
	}
	return *p.AutoConnect
}

// GetPort returns the effective port.
func (p *PLCConfig) GetPort() int {
	if p.Port <= 0 {
		return 9600
	}
	return p.Port
}

// GetTimeout returns the effective timeout.
func (p *PLCConfig) GetTimeout() time.Duration {
	if p.Timeout <= 0 {
		return 5 * time.Second
	}
	return p.Timeout
}

// FindTag returns the tag with the given name, or nil.
func (p *PLCConfig) FindTag(name string) *TagConfig {
	for i := range p.Tags {
		if p.Tags[i].Name == name {
			return &p.Tags[i]
		}
	}
	return nil
}

// TagConfig names a polled memory address.
type TagConfig struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`         // FINS address text, e.g. "DM1000"
	Count    uint16 `yaml:"count,omitempty"` // words to read, default 1
	Writable bool   `yaml:"writable,omitempty"`
}

// GetCount returns the effective word count.
func (t *TagConfig) GetCount() uint16 {
	if t.Count == 0 {
		return 1
	}
	return t.Count
}

// WebConfig holds the REST API server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name            string        `yaml:"name"`
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"` // host:port format
	Password        string        `yaml:"password,omitempty"`
	Database        int           `yaml:"database"`           // Redis DB number (default 0)
	Selector        string        `yaml:"selector,omitempty"` // optional sub-namespace
	UseTLS          bool          `yaml:"use_tls,omitempty"`
	KeyTTL          time.Duration `yaml:"key_ttl,omitempty"`          // TTL for keys (0 = no expiry)
	PublishChanges  bool          `yaml:"publish_changes,omitempty"`  // publish to Pub/Sub on changes
	EnableWriteback bool          `yaml:"enable_writeback,omitempty"` // process the write queue
}

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Name          string   `yaml:"name"`
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	UseTLS        bool     `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool     `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string   `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	RequiredAcks  int      `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader

	// Write-back: when WriteTopic is set, the gateway consumes write
	// requests from it and publishes responses to WriteTopic plus a
	// ".responses" suffix.
	WriteTopic    string        `yaml:"write_topic,omitempty"`
	ConsumerGroup string        `yaml:"consumer_group,omitempty"` // default "<namespace>-writers"
	WriteMaxAge   time.Duration `yaml:"write_max_age,omitempty"`  // default 30s
}

// GetConsumerGroup returns the effective consumer group for the given
// gateway namespace.
func (k *KafkaConfig) GetConsumerGroup(namespace string) string {
	if k.ConsumerGroup != "" {
		return k.ConsumerGroup
	}
	return namespace + "-writers"
}

// GetWriteMaxAge returns the effective staleness cutoff for queued write
// requests.
func (k *KafkaConfig) GetWriteMaxAge() time.Duration {
	if k.WriteMaxAge <= 0 {
		return 30 * time.Second
	}
	return k.WriteMaxAge
}

// ResponseTopic returns the topic write responses are published to.
func (k *KafkaConfig) ResponseTopic() string {
	if k.WriteTopic == "" {
		return ""
	}
	return k.WriteTopic + ".responses"
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "finsgate",
		PollRate:  time.Second,
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "finsgate.yaml"
	}
	return filepath.Join(home, ".finsgate", "config.yaml")
}

// Load reads configuration from a YAML file. A nonexistent file yields the
// default configuration, not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.PollRate <= 0 {
		cfg.PollRate = time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "finsgate"
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// FindPLC returns the PLC config with the given name, or nil.
func (c *Config) FindPLC(name string) *PLCConfig {
	for i := range c.PLCs {
		if c.PLCs[i].Name == name {
			return &c.PLCs[i]
		}
	}
	return nil
}

// AddPLC appends a PLC configuration.
func (c *Config) AddPLC(plc PLCConfig) {
	c.PLCs = append(c.PLCs, plc)
}

// RemovePLC removes the named PLC configuration. Returns false if it does
// not exist.
func (c *Config) RemovePLC(name string) bool {
	for i := range c.PLCs {
		if c.PLCs[i].Name == name {
			c.PLCs = append(c.PLCs[:i], c.PLCs[i+1:]...)
			return true
		}
	}
	return false
}

// FindMQTT returns the MQTT config with the given name, or nil.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// FindValkey returns the Valkey config with the given name, or nil.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// FindKafka returns the Kafka config with the given name, or nil.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}
