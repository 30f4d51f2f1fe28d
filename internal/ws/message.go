package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrUnknownAction = errors.New("unknown frame action")
	ErrInvalidFrame  = errors.New("invalid frame")
)

// Action identifies the kind of frame.
type Action string

const (
	// Client to remote frames.
	ActionSubscribe   Action = "subscribe"   // Ask for updates on documents
	ActionUnsubscribe Action = "unsubscribe" // Stop updates on documents

	// Both directions.
	ActionSyncData Action = "sync-data" // Opaque sync engine message

	// Remote to client frames.
	ActionError      Action = "error"      // Remote reports an error
	ActionSubscribed Action = "subscribed" // Remote confirms a subscription
)

// Frame is the envelope for all websocket communication. Which fields are
// set depends on Action.
type Frame struct {
	Action  Action          `json:"action"`
	IDs     []string        `json:"ids,omitempty"`
	ID      IDList          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// IDList is a list of document IDs that also accepts a bare string on the
// wire, since remotes acknowledge either one ID or several.
type IDList []string

// UnmarshalJSON accepts "id" or ["id", ...].
func (l *IDList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	if bytes.Equal(trimmed, []byte("null")) {
		*l = nil

		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}

		*l = IDList{id}

		return nil
	}

	var ids []string
	if err := json.Unmarshal(trimmed, &ids); err != nil {
		return err
	}

	*l = ids

	return nil
}

// SubscribeFrame asks the remote to send updates for ids.
func SubscribeFrame(ids []string) Frame {
	return Frame{Action: ActionSubscribe, IDs: ids}
}

// UnsubscribeFrame asks the remote to stop sending updates for ids.
func UnsubscribeFrame(ids []string) Frame {
	return Frame{Action: ActionUnsubscribe, IDs: ids}
}

// SyncDataFrame carries one sync engine message. data must be valid JSON.
func SyncDataFrame(data []byte) Frame {
	return Frame{Action: ActionSyncData, Data: json.RawMessage(data)}
}

// ErrorFrame reports an error.
func ErrorFrame(message string) Frame {
	return Frame{Action: ActionError, Message: message}
}

// SubscribedFrame confirms subscriptions.
func SubscribedFrame(ids ...string) Frame {
	return Frame{Action: ActionSubscribed, ID: ids}
}

// Encode marshals a frame.
func Encode(f Frame) ([]byte, error) {
	if f.Action == ActionSyncData && !json.Valid(f.Data) {
		return nil, fmt.Errorf("%w: sync-data payload is not JSON", ErrInvalidFrame)
	}

	return json.Marshal(f)
}

// Decode parses one inbound frame. Frames with an action this client does
// not know fail with ErrUnknownAction; the returned frame still carries the
// action so callers can report it.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	switch f.Action {
	case ActionSyncData:
		if len(f.Data) == 0 {
			return f, fmt.Errorf("%w: sync-data without data", ErrInvalidFrame)
		}
	case ActionError, ActionSubscribed, ActionSubscribe, ActionUnsubscribe:
	default:
		return f, fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
	}

	return f, nil
}
