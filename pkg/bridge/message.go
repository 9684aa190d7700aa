package bridge

import "time"

// Message is the broker-side view of one inbound MQTT publish, copied out of
// the paho callback before it is handed to the processing loop.
type Message struct {
	// ID is the broker-assigned packet identifier, formatted for logging.
	ID string
	// Topic is the concrete topic the message was published on.
	Topic string
	// Payload is the raw message body.
	Payload []byte
	// QoS is the delivery quality-of-service level.
	QoS byte
	// Duplicate marks a possible QoS 1 redelivery.
	Duplicate bool
	// Timestamp is the receive time, UTC.
	Timestamp time.Time
}
