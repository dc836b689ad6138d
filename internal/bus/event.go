package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by the prefix
// before the first dot.
const (
	KindStatusChanged  = "session.status_changed"
	KindBatchDelivered = "sync.batch_delivered"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
