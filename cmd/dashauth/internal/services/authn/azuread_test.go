package authn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

// fakeAzureAD serves the tenant token endpoint and Graph getMemberGroups.
// The password selects the token endpoint behavior.
func fakeAzureAD(t *testing.T) *httptest.Server {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tenant-id/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))

		switch r.PostForm.Get("password") {
		case "correct", "nogroups":
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "at-" + r.PostForm.Get("password"),
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "consent":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "suberror": "consent_required"})
		case "badclient":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		case "htmlerror":
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("<html><body>Bad Request</body></html>"))
		case "unavailable":
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "AADSTS50126"})
		}
	})
	mux.HandleFunc("/graph/me/getMemberGroups", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "securityEnabledOnly")
		assert.False(t, body["securityEnabledOnly"])

		if r.Header.Get("Authorization") != "Bearer at-correct" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Authorization_RequestDenied"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": []string{"group-1", "group-2"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAzureADVerifier(srv *httptest.Server) (*AzureADVerifier, *test.Hook) {
	log, hook := test.NewNullLogger()
	v := NewAzureADVerifier(config.AuthConfig{
		Timeout: 5 * time.Second,
		AzureAD: config.AzureADConfig{
			Tenant:       "tenant-id",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Authority:    srv.URL,
			GraphURL:     srv.URL + "/graph",
			Scopes:       []string{"User.Read"},
		},
	}, log)
	return v, hook
}

func TestAzureAD_Success(t *testing.T) {
	v, _ := newTestAzureADVerifier(fakeAzureAD(t))

	out := v.Authenticate(context.Background(), Credentials{Username: "alice@example.com", Password: "correct"})

	require.True(t, out.OK())
	assert.Equal(t, "alice@example.com", out.Username())
	assert.Equal(t, []string{"group-1", "group-2"}, out.Groups())
}

func TestAzureAD_Failures(t *testing.T) {
	tests := []struct {
		password string
		want     auth.OutcomeKind
		step     string
	}{
		{"wrong", auth.BadCredentials, ""},
		{"consent", auth.Error, "token"},
		{"badclient", auth.Error, "token"},
		{"unavailable", auth.Error, "token"},
		{"nogroups", auth.Error, "groups"},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			v, hook := newTestAzureADVerifier(fakeAzureAD(t))

			out := v.Authenticate(context.Background(), Credentials{Username: "alice@example.com", Password: tt.password})
			assert.Equal(t, tt.want, out.Kind())

			if tt.step == "" {
				assert.Empty(t, hook.AllEntries())
				return
			}
			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, tt.step, hook.LastEntry().Data["step"])
		})
	}
}

func TestAzureAD_NonJSONErrorBodyIsLogged(t *testing.T) {
	v, hook := newTestAzureADVerifier(fakeAzureAD(t))
	v.log.(*logrus.Logger).SetLevel(logrus.DebugLevel)

	out := v.Authenticate(context.Background(), Credentials{Username: "alice@example.com", Password: "htmlerror"})
	assert.Equal(t, auth.BadCredentials, out.Kind())

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Equal(t, "token", hook.LastEntry().Data["step"])
	assert.Equal(t, http.StatusBadRequest, hook.LastEntry().Data["status"])
}

func TestAzureAD_ConfigurationErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	v := NewAzureADVerifier(config.AuthConfig{}, log)
	assert.Len(t, v.ConfigurationErrors(), 3)
}
