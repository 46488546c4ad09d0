// Package bus is the change bus: per-project fan-out of accepted config
// mutations to subscribers over Redis pub/sub. Delivery is at-least-once and
// per-project FIFO on the publisher side; disconnected subscribers miss
// events and re-bootstrap from the cache layer on reconnect.
package bus

import (
	"encoding/json"
	"time"
)

// channelPrefix namespaces the per-project pub/sub channels.
const channelPrefix = "changes"

// Channel returns the pub/sub channel name for a project.
func Channel(projectKey string) string {
	return channelPrefix + ":" + projectKey
}

// Event is one accepted config mutation, as delivered to subscribers.
// Subscribers must tolerate duplicates.
type Event struct {
	Action         string    `json:"action"`
	FlagKey        string    `json:"flag_key"`
	EnvironmentKey string    `json:"environment"`
	Enabled        bool      `json:"enabled"`
	Timestamp      time.Time `json:"timestamp"`
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a wire frame back into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
