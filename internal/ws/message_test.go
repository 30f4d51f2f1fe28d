package ws_test

import (
	"encoding/json"
	"testing"

	"github.com/serroba/docsync/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame ws.Frame
		want  string
	}{
		{
			name:  "subscribe",
			frame: ws.SubscribeFrame([]string{"a", "b"}),
			want:  `{"action":"subscribe","ids":["a","b"]}`,
		},
		{
			name:  "unsubscribe",
			frame: ws.UnsubscribeFrame([]string{"a"}),
			want:  `{"action":"unsubscribe","ids":["a"]}`,
		},
		{
			name:  "sync-data",
			frame: ws.SyncDataFrame([]byte(`{"docId":"a","clock":{}}`)),
			want:  `{"action":"sync-data","data":{"docId":"a","clock":{}}}`,
		},
		{
			name:  "error",
			frame: ws.ErrorFrame("boom"),
			want:  `{"action":"error","message":"boom"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := ws.Encode(tt.frame)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestDecode_Subscribed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want ws.IDList
	}{
		{name: "single id", data: `{"action":"subscribed","id":"doc1"}`, want: ws.IDList{"doc1"}},
		{name: "id list", data: `{"action":"subscribed","id":["doc1","doc2"]}`, want: ws.IDList{"doc1", "doc2"}},
		{name: "missing id", data: `{"action":"subscribed"}`, want: nil},
		{name: "null id", data: `{"action":"subscribed","id":null}`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := ws.Decode([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, ws.ActionSubscribed, f.Action)
			assert.Equal(t, tt.want, f.ID)
		})
	}
}

func TestDecode_SyncDataKeepsPayload(t *testing.T) {
	t.Parallel()

	f, err := ws.Decode([]byte(`{"action":"sync-data","data":{"docId":"x","clock":{"a":1}}}`))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, "x", payload["docId"])
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		err  error
	}{
		{name: "not json", data: `nope`, err: ws.ErrInvalidFrame},
		{name: "sync-data without data", data: `{"action":"sync-data"}`, err: ws.ErrInvalidFrame},
		{name: "bad id type", data: `{"action":"subscribed","id":42}`, err: ws.ErrInvalidFrame},
		{name: "unknown action", data: `{"action":"presence"}`, err: ws.ErrUnknownAction},
		{name: "missing action", data: `{"ids":["a"]}`, err: ws.ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ws.Decode([]byte(tt.data))
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecode_UnknownActionKeepsAction(t *testing.T) {
	t.Parallel()

	f, err := ws.Decode([]byte(`{"action":"presence"}`))
	require.ErrorIs(t, err, ws.ErrUnknownAction)
	assert.Equal(t, ws.Action("presence"), f.Action)
}
