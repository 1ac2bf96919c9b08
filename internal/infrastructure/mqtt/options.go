package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// statusPublishTimeout bounds the retained status publish on connect and close.
	statusPublishTimeout = 2 * time.Second

	// protocolVersion311 selects MQTT 3.1.1.
	protocolVersion311 = 4

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix is used when no client id is configured.
	clientIDPrefix = "meshbridge-"
)

// clientIDFor returns the configured client id, or a generated one.
//
// Brokers reject a second session with the same id, so a generated id gets
// a random suffix rather than a fixed default.
func clientIDFor(cfg config.MQTTConfig) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return clientIDPrefix + uuid.NewString()[:8]
}

// buildClientOptions creates paho MQTT options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID, MQTT 3.1.1 and clean session
//   - Authentication credentials (if provided)
//   - Keepalive, command timeout and TLS handshake bound
//   - Auto-reconnect with a capped exponential backoff (if enabled)
//   - Mutual TLS from the certificate files (if enabled)
//
// Initial connection is never retried: a failed first connect is fatal.
func buildClientOptions(cfg config.MQTTConfig, clientID string, certs config.CertPaths) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(clientID)
	opts.SetProtocolVersion(protocolVersion311)
	opts.SetCleanSession(true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.CommandTimeout)
	if cfg.TLSHandshakeTimeout > 0 {
		// paho dials ssl:// with tls.DialWithDialer, so the dialer timeout
		// bounds TCP connect plus the handshake.
		opts.SetDialer(&net.Dialer{Timeout: cfg.TLSHandshakeTimeout})
	}

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(cfg.Reconnect.AutoReconnect)
	opts.SetMaxReconnectInterval(cfg.ReconnectMaxDelay())

	if cfg.Broker.TLS {
		tlsConfig, err := newTLSConfig(certs, cfg.Broker.Host)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// newTLSConfig loads the root CA, device certificate and private key.
//
// The broker host name is verified against its certificate.
func newTLSConfig(certs config.CertPaths, serverName string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(certs.RootCA)
	if err != nil {
		return nil, fmt.Errorf("reading root CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("root CA %s: no PEM certificates found", certs.RootCA)
	}

	keyPair, err := tls.LoadX509KeyPair(certs.Certificate, certs.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("loading device certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:   tlsMinVersion,
		RootCAs:      pool,
		Certificates: []tls.Certificate{keyPair},
		ServerName:   serverName,
	}, nil
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the will if the bridge drops without a clean
// disconnect. Retained, so new subscribers see the last status.
func configureLWT(opts *pahomqtt.ClientOptions, statusTopic, clientID string) {
	if statusTopic == "" {
		return
	}
	opts.SetWill(statusTopic, buildStatusPayload("offline", clientID, "unexpected_disconnect"), 1, true)
}

// buildStatusPayload creates the JSON payload for status messages.
func buildStatusPayload(status, clientID, reason string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`, status, clientID, ts)
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`, status, clientID, reason, ts)
}
