// Package change defines the events emitted by sizewatch. It is the public
// contract for sinks and any consumer receiving size notifications.
package change

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

// Event reports that the signature of an observed target changed.
type Event struct {
	ID         string              `json:"id"` // UUIDv7
	PageID     string              `json:"page_id"`
	PageURL    string              `json:"page_url"`
	Seq        uint64              `json:"seq"` // monotonically increasing per page
	Target     geometry.Target     `json:"target"`
	Properties []geometry.Property `json:"properties"`
	Reads      []geometry.Read     `json:"reads,omitempty"`
	Previous   string              `json:"previous"`
	Current    string              `json:"current"`
	Values     []string            `json:"values,omitempty"` // decoded Current, one per read
	Timestamp  int64               `json:"timestamp"`        // epoch milliseconds
}

// NewID returns a time-sortable event identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Marshal serialises an Event to JSON.
func Marshal(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserialises an Event from JSON.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
