// Package relay drains the transactional outbox to a downstream message
// broker. Delivery is at-least-once: an entry is marked published only
// after the broker acknowledges it, so a crash between publish and mark
// re-delivers the message. Consumers deduplicate on the idempotency key
// carried in every message.
package relay

import "context"

// Message is one outbox entry on the wire. Key is the idempotency key; it
// doubles as the partitioning key so all deliveries of one on-chain event
// land on the same partition in order.
type Message struct {
	Key   string
	Type  string
	Value []byte
}

// Publisher delivers one message to whatever sits downstream of the outbox.
// Publish must not return nil unless the broker has durably accepted the
// message; the relay marks an entry published solely on a nil return.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}
