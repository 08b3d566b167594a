// Package protocol defines the wire-level message shapes exchanged between
// the executor and its workers, and their JSON serialization.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType enumerates the valid Message.Type values.
type MessageType string

const (
	MessageStarted             MessageType = "started"
	MessageSucceeded           MessageType = "succeeded"
	MessageFailed              MessageType = "failed"
	MessageApplyTrackedChanges MessageType = "apply_tracked_changes"
	MessageClosed              MessageType = "closed"
)

// Value pairs a field's first-observed value with its current one. A scalar
// field is dirty iff Initial != Current. Initial may be the NotLoaded
// sentinel meaning "treat as overwrite" (the worker never saw a prior
// value, e.g. on a brand-new entity that wasn't captured by a load hook).
type Value struct {
	Initial any `json:"initial"`
	Current any `json:"current"`
}

// NotLoaded is the sentinel Value.Initial takes when no prior value was
// observed before the first write.
const NotLoaded = "$notLoaded"

// ChildEntity is a serialized collection member: its fields plus a
// _MODEL_CLS tag naming the model to instantiate it as.
type ChildEntity map[string]any

// ModelClass returns the child entity's declared model class.
func (c ChildEntity) ModelClass() string {
	cls, _ := c["_MODEL_CLS"].(string)
	return cls
}

// AttrDiff is the polymorphic value recorded per attribute in a Modified
// entry: either a scalar Value, or — for collection-valued attributes — a
// list of appended ChildEntity records. Exactly one of Scalar or Appended is
// set.
type AttrDiff struct {
	Scalar   *Value
	Appended []ChildEntity
}

// IsCollection reports whether this diff represents collection appends
// rather than a scalar assignment.
func (d AttrDiff) IsCollection() bool {
	return d.Appended != nil
}

func (d AttrDiff) MarshalJSON() ([]byte, error) {
	if d.Appended != nil {
		return json.Marshal(d.Appended)
	}
	if d.Scalar != nil {
		return json.Marshal(d.Scalar)
	}
	return json.Marshal(Value{})
}

func (d *AttrDiff) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var children []ChildEntity
		if err := json.Unmarshal(data, &children); err != nil {
			return fmt.Errorf("protocol: decoding collection-append diff: %w", err)
		}
		d.Appended = children
		d.Scalar = nil
		return nil
	}

	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("protocol: decoding scalar diff: %w", err)
	}
	d.Scalar = &v
	d.Appended = nil
	return nil
}

// ModelChanges is the "Modified" half of a tracked change set:
// model_name -> entity_id -> attribute_name -> AttrDiff.
type ModelChanges map[string]map[string]map[string]AttrDiff

// NewInstances is the "New" half of a tracked change set:
// model_name -> temp_id -> field_map.
type NewInstances map[string]map[string]map[string]any

// Message is the tagged record exchanged over the wire protocol.
type Message struct {
	Type           MessageType  `json:"type"`
	TaskID         string       `json:"task_id,omitempty"`
	Exception      *RemoteError `json:"exception,omitempty"`
	Traceback      string       `json:"traceback,omitempty"`
	TrackedChanges ModelChanges `json:"tracked_changes"`
	NewInstances   NewInstances `json:"new_instances"`
}

// Encode serializes a Message to its wire payload.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding message: %w", err)
	}
	return b, nil
}

// Decode deserializes a Message from a wire payload.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: decoding message: %w", err)
	}
	return m, nil
}
