// Package mqtt provides MQTT client connectivity for RVLink.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// RVLink uses MQTT as its outward-facing bus: decoded entity state is
// published to retained state topics, commands arrive on command topics,
// and the bridge's health is advertised on a retained health topic.
// The topic scheme itself lives in the pipeline package; this package is
// scheme-agnostic and only moves bytes.
//
//	RV-C bus ↔ RVLink bridge ↔ MQTT Broker ↔ Dashboards / Automations
//
// # Security Considerations
//
//   - TLS is recommended whenever the broker is reachable beyond the vehicle
//     network (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for isolated vehicle networks
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff per config (initial_delay..max_delay)
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WillMessage{
//	    Topic:    "rvlink/health",
//	    Payload:  offlinePayload,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all entity commands
//	err = client.Subscribe("rvlink/command/#", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish retained state
//	client.Publish("rvlink/state/bedroom_ceiling_light", stateJSON, 1, true)
package mqtt
