package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/rzbill/jobstream/internal/storage/pebble"
)

// StreamContext is the serializable handle a producer passes to a background
// worker through the job entity. It names the channel and carries debugging
// dimensions that are merged into every emitted event.
type StreamContext struct {
	ChannelID   string `json:"channel_id"`
	Tenant      string `json:"tenant,omitempty"`
	Project     string `json:"project,omitempty"`
	Environment string `json:"environment,omitempty"`
	Service     string `json:"service,omitempty"`
}

// Dimensions returns the non-empty debugging dimensions as an event context
// map, or nil when there are none.
func (c StreamContext) Dimensions() map[string]string {
	dims := map[string]string{}
	if c.Tenant != "" {
		dims["tenant"] = c.Tenant
	}
	if c.Project != "" {
		dims["project"] = c.Project
	}
	if c.Environment != "" {
		dims["environment"] = c.Environment
	}
	if c.Service != "" {
		dims["service"] = c.Service
	}
	if len(dims) == 0 {
		return nil
	}
	return dims
}

// Mirror appends published events to a durable store for audit and
// debugging, alongside the transient pub/sub channel.
type Mirror interface {
	Append(event Event) error
}

// PebbleMirror stores events under chan/{channel_id}/{event_id}. Event ids
// are time-sortable, so a prefix scan yields events in emission order.
type PebbleMirror struct {
	db *pebble.DB
}

// NewPebbleMirror wraps an open store.
func NewPebbleMirror(db *pebble.DB) *PebbleMirror {
	return &PebbleMirror{db: db}
}

// Append implements Mirror.
func (m *PebbleMirror) Append(event Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	key := fmt.Sprintf("chan/%s/%s", event.ChannelID, event.EventID)
	return m.db.Set([]byte(key), data)
}

// Events returns all mirrored events for a channel.
func (m *PebbleMirror) Events(channelID string) ([]Event, error) {
	prefix := []byte(fmt.Sprintf("chan/%s/", channelID))
	var events []Event
	var decodeErr error
	err := m.db.Scan(prefix, func(key, value []byte) bool {
		var e Event
		if err := json.Unmarshal(value, &e); err != nil {
			decodeErr = err
			return false
		}
		events = append(events, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("streaming: decode mirrored event: %w", decodeErr)
	}
	return events, nil
}
