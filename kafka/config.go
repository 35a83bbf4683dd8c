// Package kafka provides Kafka publishing for polled controller tag values.
package kafka

import (
	"crypto/tls"

	"github.com/dvasquez01/pyomron-fins/config"
)

// SASL mechanism names accepted in configuration.
const (
	SASLNone        = ""
	SASLPlain       = "PLAIN"
	SASLSCRAMSHA256 = "SCRAM-SHA-256"
	SASLSCRAMSHA512 = "SCRAM-SHA-512"
)

// tlsConfigFor returns a TLS configuration for the cluster, or nil when TLS
// is disabled.
func tlsConfigFor(cfg *config.KafkaConfig) *tls.Config {
	if !cfg.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
}
