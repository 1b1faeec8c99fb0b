package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/config"
)

const (
	connectTimeout          = 10 * time.Second
	operationTimeout        = 5 * time.Second
	disconnectQuiesceMillis = 1000
	keepAlive               = 60 * time.Second

	maxQoS = 2
)

// Presence states published on peerlink/host/{client}/status.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"

	ReasonShutdown   = "graceful_shutdown"
	ReasonConnection = "unexpected_disconnect"
)

// Presence is the retained payload on a client's status topic.
type Presence struct {
	Status   string    `json:"status"`
	ClientID string    `json:"client_id"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"timestamp"`
}

func presencePayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(Presence{ //nolint:errcheck // fixed shape
		Status:   status,
		ClientID: clientID,
		Reason:   reason,
		At:       time.Now().UTC().Truncate(time.Second),
	})
	return b
}

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// clientOptions maps cfg onto paho options: clean sessions, automatic
// reconnect with the configured backoff bounds, optional TLS 1.2+ and an
// offline will on the presence topic.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	will := presencePayload(cfg.Broker.ClientID, PresenceOffline, ReasonConnection)
	opts.SetBinaryWill(Topics{}.HostStatus(cfg.Broker.ClientID), will, 1, true)
	return opts
}

// await waits for t, wrapping a timeout or failure in failed.
func await(t pahomqtt.Token, timeout time.Duration, failed error) error {
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", failed, timeout)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("%w: %w", failed, err)
	}
	return nil
}
