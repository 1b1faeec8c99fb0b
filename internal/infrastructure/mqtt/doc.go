// Package mqtt provides MQTT client connectivity for peerlink.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for presence
//
// # Architecture
//
// MQTT is the push delivery channel between peers. After a record store save
// matches a subscription, the writer publishes a wake-up on
// peerlink/notify/{subscription}; the subscribing host polls the store. The
// payload is a hint only; the store stays the source of truth and the relay
// and command worker keep a fallback timer for lost wake-ups.
//
//	peer A (writer) -> broker -> peer B (relay / worker) -> record store
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Wake-ups carry record identities only, never record contents
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Notify("relay-MAC-1"), 1,
//	    func(topic string, payload []byte) error {
//	        return relay.HandleNotification(ctx, payload)
//	    })
package mqtt
