package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleVerifier_Verify(t *testing.T) {
	tests := []struct {
		name     string
		idToken  string
		status   int
		payload  map[string]string
		wantErr  bool
		wantMail string
	}{
		{
			name:    "valid verified token",
			idToken: "good-token",
			status:  http.StatusOK,
			payload: map[string]string{
				"email":          "fed@example.com",
				"email_verified": "true",
				"name":           "Fed User",
				"picture":        "https://pic.test/p.jpg",
			},
			wantMail: "fed@example.com",
		},
		{
			name:    "unverified email rejected",
			idToken: "unverified-token",
			status:  http.StatusOK,
			payload: map[string]string{
				"email":          "fed@example.com",
				"email_verified": "false",
			},
			wantErr: true,
		},
		{
			name:    "endpoint rejects the token",
			idToken: "bad-token",
			status:  http.StatusBadRequest,
			payload: map[string]string{"error": "invalid_token"},
			wantErr: true,
		},
		{
			name:    "empty token fails locally",
			idToken: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				assert.Equal(t, tt.idToken, r.URL.Query().Get("id_token"))
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.payload)
			}))
			defer srv.Close()

			v := NewGoogleVerifier(srv.URL, 2*time.Second)
			profile, err := v.Verify(context.Background(), tt.idToken)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrFederatedToken)
				if tt.idToken == "" {
					assert.False(t, called, "empty token must not reach the endpoint")
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMail, profile.Email)
			assert.Equal(t, "Fed User", profile.Name)
		})
	}
}
