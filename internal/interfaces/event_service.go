package interfaces

import "context"

// EventType is the closed set of scheduling-core events other
// components subscribe to. Unlike a generic event bus, payloads are
// concrete types, not map[string]interface{}, so subscribers never
// re-parse what the publisher already knew.
type EventType string

const (
	// EventJobStateChanged is published whenever the Scheduler commits a
	// Job state transition. Payload: JobStateChangedEvent.
	EventJobStateChanged EventType = "job_state_changed"

	// EventClientDisconnected names a client-loss event. Payload:
	// ClientDisconnectedEvent. No component in this module publishes it;
	// a client lost mid-Job reaches the Scheduler as a
	// ClientReportDisconnected report instead.
	EventClientDisconnected EventType = "client_disconnected"
)

// JobStateChangedEvent is the payload for EventJobStateChanged.
type JobStateChangedEvent struct {
	JobID    string
	Previous string
	Current  string
	Reason   string
}

// ClientDisconnectedEvent is the payload for EventClientDisconnected.
type ClientDisconnectedEvent struct {
	ClientID      string
	AssignedJobID string
}

// Event wraps a typed payload with its EventType so subscribers
// registered for multiple types can switch on Type before asserting.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler handles one published Event. Handlers run in their own
// goroutine (see internal/events.Bus.Publish); a handler must not block on
// anything the publisher itself is waiting on.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the pub/sub mechanism OptimizingJobController instances
// use to wake on iteration completion instead of polling the Scheduler.
type EventBus interface {
	Subscribe(eventType EventType, handler EventHandler) (subscriptionID string)
	Unsubscribe(subscriptionID string)
	Publish(ctx context.Context, event Event)
}
