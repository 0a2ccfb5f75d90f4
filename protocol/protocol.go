/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package protocol defines the JSON messages exchanged over the hot update
// socket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies a socket message.
type MessageType string

const (
	// Server -> Client
	TypeConnected  MessageType = "connected"   // Sent once after the upgrade
	TypeFullReload MessageType = "full-reload" // Reload the page
	TypeUpdate     MessageType = "hmr"         // Batch of module updates
	TypePrune      MessageType = "prune"       // Modules no longer imported
	TypeCustom     MessageType = "custom"      // Application-defined event

	// Client -> Server
	TypeHeartbeat  MessageType = "heartBeat"  // Keep-alive
	TypeInvalidate MessageType = "invalidate" // Module could not apply an update
)

// UpdateJS is the only update kind the server emits.
const UpdateJS = "js-update"

// Update tells a client to re-import AcceptedPath and hand it to the
// accept callback registered by the module at Path.
type Update struct {
	Type         string `json:"type"`
	Path         string `json:"path"`
	AcceptedPath string `json:"acceptedPath"`
	Timestamp    int64  `json:"timestamp"`
}

// Message is the envelope of every socket message. Fields unused by a
// message type are omitted from the wire.
type Message struct {
	Type MessageType `json:"type"`

	Updates []Update `json:"updates,omitempty"`
	Paths   []string `json:"paths,omitempty"`
	Event   string   `json:"event,omitempty"`
	// Data carries custom event data, or the payload of client messages.
	Data json.RawMessage `json:"data,omitempty"`
}

// InvalidatePayload is the data of an invalidate message.
type InvalidatePayload struct {
	Path string `json:"path"`
}

// NewConnectedMessage creates the greeting sent to new clients.
func NewConnectedMessage() Message {
	return Message{Type: TypeConnected}
}

// NewFullReloadMessage creates a full-reload message.
func NewFullReloadMessage() Message {
	return Message{Type: TypeFullReload}
}

// NewUpdateMessage creates an hmr message carrying updates.
func NewUpdateMessage(updates []Update) Message {
	return Message{Type: TypeUpdate, Updates: updates}
}

// NewPruneMessage creates a prune message for the given module URLs.
func NewPruneMessage(paths []string) Message {
	return Message{Type: TypePrune, Paths: paths}
}

// NewCustomMessage creates a custom event message. data is marshalled to
// JSON.
func NewCustomMessage(event string, data any) (Message, error) {
	msg := Message{Type: TypeCustom, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal custom event %s: %w", event, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// NewHeartbeatMessage creates a client keep-alive.
func NewHeartbeatMessage() Message {
	return Message{Type: TypeHeartbeat}
}

// NewInvalidateMessage creates a client request to invalidate the module
// at path.
func NewInvalidateMessage(path string) Message {
	raw, _ := json.Marshal(InvalidatePayload{Path: path})
	return Message{Type: TypeInvalidate, Data: raw}
}

// ParseInvalidatePayload extracts the invalidate payload from a message.
func ParseInvalidatePayload(msg Message) (*InvalidatePayload, error) {
	var payload InvalidatePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse invalidate payload: %w", err)
	}
	return &payload, nil
}
