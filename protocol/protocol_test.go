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

package protocol

import (
	"encoding/json"
	"testing"
)

func TestWireFormat(t *testing.T) {
	custom, err := NewCustomMessage("theme", map[string]string{"mode": "dark"})
	if err != nil {
		t.Fatalf("NewCustomMessage failed: %v", err)
	}

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"connected", NewConnectedMessage(), `{"type":"connected"}`},
		{"full reload", NewFullReloadMessage(), `{"type":"full-reload"}`},
		{
			"update",
			NewUpdateMessage([]Update{{Type: UpdateJS, Path: "/src/a.js", AcceptedPath: "/src/b.js", Timestamp: 42}}),
			`{"type":"hmr","updates":[{"type":"js-update","path":"/src/a.js","acceptedPath":"/src/b.js","timestamp":42}]}`,
		},
		{"prune", NewPruneMessage([]string{"/src/b.js"}), `{"type":"prune","paths":["/src/b.js"]}`},
		{"custom", custom, `{"type":"custom","event":"theme","data":{"mode":"dark"}}`},
		{"heartbeat", NewHeartbeatMessage(), `{"type":"heartBeat"}`},
		{"invalidate", NewInvalidateMessage("/src/a.js"), `{"type":"invalidate","data":{"path":"/src/a.js"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestParseInvalidatePayload(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"type":"invalidate","data":{"path":"/src/a.js"}}`), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Type != TypeInvalidate {
		t.Fatalf("type = %q", msg.Type)
	}
	payload, err := ParseInvalidatePayload(msg)
	if err != nil {
		t.Fatalf("ParseInvalidatePayload failed: %v", err)
	}
	if payload.Path != "/src/a.js" {
		t.Errorf("path = %q", payload.Path)
	}

	if _, err := ParseInvalidatePayload(Message{Type: TypeInvalidate}); err == nil {
		t.Error("expected error for missing data")
	}
}
