// Package push carries record store change notifications over MQTT.
//
// Notifier is installed on the record store: every committed save that
// matches a subscription publishes a wake-up on that subscription's topic.
// Listener subscribes to a subscription's topic and hands each wake-up to a
// poll trigger such as relay.Relay.HandleNotification.
package push
