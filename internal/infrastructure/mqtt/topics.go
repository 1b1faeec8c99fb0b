package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every peerlink topic.
//
// Topic hierarchy:
//
//	peerlink/notify/{subscription}   record change wake-ups (QoS 1, not retained)
//	peerlink/host/{host}/status      online/offline presence (retained, LWT)
const TopicPrefix = "peerlink"

// Topics provides builders for peerlink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topic := mqtt.Topics{}.Notify("relay-MAC-1")
//	// Returns: "peerlink/notify/relay-MAC-1"
type Topics struct{}

// =============================================================================
// Notification Topics
// =============================================================================

// Notify returns the wake-up topic for a record store subscription.
//
// Example: peerlink/notify/relay-MAC-1
func (Topics) Notify(subscriptionID string) string {
	return fmt.Sprintf("%s/notify/%s", TopicPrefix, subscriptionID)
}

// AllNotifications returns a pattern matching every subscription's wake-ups.
//
// Pattern: peerlink/notify/+
func (Topics) AllNotifications() string {
	return fmt.Sprintf("%s/notify/+", TopicPrefix)
}

// SubscriptionFromTopic extracts the subscription ID from a Notify topic.
func (Topics) SubscriptionFromTopic(topic string) (string, bool) {
	prefix := TopicPrefix + "/notify/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// =============================================================================
// Host Topics
// =============================================================================

// HostStatus returns the presence topic for a host or client.
//
// Example: peerlink/host/peerlink-studio/status
func (Topics) HostStatus(id string) string {
	return fmt.Sprintf("%s/host/%s/status", TopicPrefix, id)
}

// AllHostStatus returns a pattern matching every host's presence.
//
// Pattern: peerlink/host/+/status
func (Topics) AllHostStatus() string {
	return fmt.Sprintf("%s/host/+/status", TopicPrefix)
}

// ValidSegment reports whether s can be used as a single topic level.
// Wildcards and separators are rejected.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
