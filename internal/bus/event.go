package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds in use: sync.batch_merged, sync.fetch_failed, sync.fetch_completed,
// media.downloaded, media.failed, pipeline.started, pipeline.completed,
// wa.connected, wa.disconnected, wa.message, wa.history_batch and the
// session.* auth and status events.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
