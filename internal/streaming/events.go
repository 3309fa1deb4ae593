package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rzbill/jobstream/pkg/id"
)

// Event types. Done is the sole terminal type.
const (
	EventLog      = "log"
	EventProgress = "progress"
	EventData     = "data"
	EventError    = "error"
	EventDone     = "done"
	EventPing     = "ping"
)

// Event is one message on a stream channel.
type Event struct {
	Type      string                 `json:"type"`
	ChannelID string                 `json:"channel_id"`
	EventID   string                 `json:"event_id"`
	Timestamp float64                `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
}

// eventIDs issues time-sortable event ids so mirrored events iterate in
// emission order.
var eventIDs = id.NewGenerator()

// NewEvent builds an event with a fresh id and current timestamp.
func NewEvent(typ, channelID string, data map[string]interface{}) Event {
	return Event{
		Type:      typ,
		ChannelID: channelID,
		EventID:   eventIDs.Next().String(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Data:      data,
	}
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool { return e.Type == EventDone }

// Encode serializes the event for the pub/sub wire.
func (e Event) Encode() ([]byte, error) { return json.Marshal(e) }

// DecodeEvent parses a pub/sub payload.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("streaming: decode event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("streaming: event missing type")
	}
	return e, nil
}

// EncodeSSE renders the event as a server-sent-events frame. The payload is
// flattened: the data fields sit next to type at the top level, and the
// context travels under "_context" when present.
func (e Event) EncodeSSE() ([]byte, error) {
	flat := make(map[string]interface{}, len(e.Data)+2)
	for k, v := range e.Data {
		flat[k] = v
	}
	flat["type"] = e.Type
	if len(e.Context) > 0 {
		flat["_context"] = e.Context
	}
	payload, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("streaming: encode sse: %w", err)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// ChannelKey names the pub/sub channel for a stream.
func ChannelKey(channelID string) string {
	return "jobstream:stream:chan:" + channelID
}

// LeaseKey names the per-user lease sorted set.
func LeaseKey(userID string) string {
	return "jobstream:stream:leases:" + userID
}
