/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package decorator

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttachmentData_Fetch(t *testing.T) {
	ping := `{"@type":"https://didcomm.org/trust_ping/1.0/ping","@id":"ping-1"}`

	tests := []struct {
		name    string
		data    AttachmentData
		want    string
		wantErr string
	}{
		{
			name: "json",
			data: AttachmentData{JSON: map[string]interface{}{
				"@type": "https://didcomm.org/trust_ping/1.0/ping",
				"@id":   "ping-1",
			}},
			want: ping,
		},
		{
			name: "base64",
			data: AttachmentData{Base64: base64.StdEncoding.EncodeToString([]byte(ping))},
			want: ping,
		},
		{
			name:    "json that cannot be marshalled",
			data:    AttachmentData{JSON: func() {}},
			wantErr: "failed to marshal json contents",
		},
		{
			name:    "invalid base64",
			data:    AttachmentData{Base64: "%%%"},
			wantErr: "failed to decode base64 contents",
		},
		{
			name:    "links only",
			data:    AttachmentData{Links: []string{"https://alice.example.com/ping.json"}},
			wantErr: "no contents in this attachment",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			bits, err := tc.data.Fetch()
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)

				return
			}

			require.NoError(t, err)
			require.JSONEq(t, tc.want, string(bits))
		})
	}
}

func TestNewJSONAttachment(t *testing.T) {
	a := NewJSONAttachment("request-0", map[string]interface{}{"@type": "type"})
	require.Equal(t, "request-0", a.ID)
	require.Equal(t, JSONMimeType, a.MimeType)

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	require.JSONEq(t, `{"@id":"request-0","mime-type":"application/json","data":{"json":{"@type":"type"}}}`,
		string(raw))
}

func TestDecoratorsJSON(t *testing.T) {
	t.Run("transport return route", func(t *testing.T) {
		raw, err := json.Marshal(&Transport{ReturnRoute: &ReturnRoute{Value: TransportReturnRouteAll}})
		require.NoError(t, err)
		require.JSONEq(t, `{"~transport":{"return_route":"all"}}`, string(raw))
	})

	t.Run("thread", func(t *testing.T) {
		th := Thread{}
		require.NoError(t, json.Unmarshal([]byte(`{"thid":"request-1","pthid":"invitation-1"}`), &th))
		require.Equal(t, Thread{ID: "request-1", PID: "invitation-1"}, th)
	})

	t.Run("service keeps empty recipient keys", func(t *testing.T) {
		raw, err := json.Marshal(&Service{ServiceEndpoint: "https://alice.example.com"})
		require.NoError(t, err)
		require.JSONEq(t, `{"recipientKeys":null,"serviceEndpoint":"https://alice.example.com"}`, string(raw))
	})
}
