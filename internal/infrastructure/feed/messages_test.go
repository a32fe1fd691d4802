package feed

import (
	"errors"
	"testing"

	"freightdash/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Message
		wantErr error
	}{
		{
			name:  "user login",
			frame: `{"type":"user_login","payload":{"userid":"u7","name":"Sam","role":"freighter"}}`,
			want:  UserLogin{User: domain.ActiveUser{UserID: "u7", Name: "Sam", Role: "freighter"}},
		},
		{
			name:  "user login with camel case id",
			frame: `{"type":"user_login","payload":{"userId":"U1"}}`,
			want:  UserLogin{User: domain.ActiveUser{UserID: "U1"}},
		},
		{
			name:  "user logout",
			frame: `{"type":"user_logout","payload":{"userid":"u7"}}`,
			want:  UserLogout{UserID: "u7"},
		},
		{
			name:  "user logout with camel case id",
			frame: `{"type":"user_logout","payload":{"userId":"U1"}}`,
			want:  UserLogout{UserID: "U1"},
		},
		{
			name:  "empty shipment update",
			frame: `{"type":"shipment_update","payload":[]}`,
			want:  ShipmentUpdate{Shipments: []domain.Shipment{}},
		},
		{
			name:    "unknown type",
			frame:   `{"type":"price_update","payload":{}}`,
			wantErr: domain.ErrUnknownMessage,
		},
		{
			name:    "malformed envelope",
			frame:   `{"type":`,
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "missing payload",
			frame:   `{"type":"user_login"}`,
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "logout without userid",
			frame:   `{"type":"user_logout","payload":{}}`,
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "freighter update is not a list",
			frame:   `{"type":"freighter_update","payload":{"freighterId":"F1"}}`,
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "shipment with impossible latitude",
			frame:   `{"type":"shipment_update","payload":[{"requestId":"R1","originLat":123,"originLng":10,"weightKg":5}]}`,
			wantErr: domain.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode("match_request", map[string]string{"requestId": "R1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"match_request","payload":{"requestId":"R1"}}`, string(data))

	data, err = Encode("ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))
}
