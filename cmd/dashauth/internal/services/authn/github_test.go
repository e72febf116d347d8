package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

type githubUser struct {
	password string
	otp      string
	orgs     []string
	teams    map[string]string // team name -> org login
}

// fakeGitHub serves /user/orgs and /user/teams for a fixed set of users.
func fakeGitHub(t *testing.T, users map[string]githubUser) *httptest.Server {
	t.Helper()

	authenticate := func(w http.ResponseWriter, r *http.Request) (githubUser, bool) {
		name, password, ok := r.BasicAuth()
		u, known := users[name]
		if !ok || !known || u.password != password {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"Bad credentials"}`)
			return githubUser{}, false
		}
		if u.otp != "" && r.Header.Get("X-GitHub-OTP") != u.otp {
			w.Header().Set("X-GitHub-OTP", "required; app")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"Must specify two-factor authentication OTP code."}`)
			return githubUser{}, false
		}
		return u, true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		u, ok := authenticate(w, r)
		if !ok {
			return
		}
		// one org per page to exercise pagination
		page := 1
		fmt.Sscan(r.URL.Query().Get("page"), &page)
		var orgs []map[string]any
		if page <= len(u.orgs) {
			orgs = append(orgs, map[string]any{"login": u.orgs[page-1]})
		}
		if page < len(u.orgs) {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/user/orgs?page=%d>; rel="next"`, r.Host, page+1))
		}
		_ = json.NewEncoder(w).Encode(orgs)
	})
	mux.HandleFunc("/user/teams", func(w http.ResponseWriter, r *http.Request) {
		u, ok := authenticate(w, r)
		if !ok {
			return
		}
		teams := []map[string]any{}
		for name, org := range u.teams {
			teams = append(teams, map[string]any{"name": name, "organization": map[string]any{"login": org}})
		}
		_ = json.NewEncoder(w).Encode(teams)
	})
	mux.HandleFunc("/boom/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGitHubVerifier(apiURL string) (*GitHubVerifier, *test.Hook) {
	log, hook := test.NewNullLogger()
	v := NewGitHubVerifier(config.AuthConfig{
		Timeout: 5 * time.Second,
		GitHub:  config.GitHubConfig{Organization: "Example", APIURL: apiURL},
	}, log)
	return v, hook
}

func TestGitHub_Authenticate(t *testing.T) {
	srv := fakeGitHub(t, map[string]githubUser{
		"octocat": {
			password: "secret",
			orgs:     []string{"other", "example"},
			teams:    map[string]string{"ops": "example", "unrelated": "other"},
		},
		"outsider": {password: "secret", orgs: []string{"other"}},
		"guarded":  {password: "secret", otp: "123456", orgs: []string{"example"}},
	})
	v, _ := newTestGitHubVerifier(srv.URL)

	tests := []struct {
		name   string
		creds  Credentials
		kind   auth.OutcomeKind
		groups []string
	}{
		{"member", Credentials{Username: "octocat", Password: "secret"}, auth.Success, []string{"ops"}},
		{"bad password", Credentials{Username: "octocat", Password: "wrong"}, auth.BadCredentials, nil},
		{"not a member", Credentials{Username: "outsider", Password: "secret"}, auth.Forbidden, nil},
		{"otp required", Credentials{Username: "guarded", Password: "secret"}, auth.OtpChallenge, nil},
		{"otp rejected", Credentials{Username: "guarded", Password: "secret", OTP: "000000"}, auth.BadOtp, nil},
		{"otp accepted", Credentials{Username: "guarded", Password: "secret", OTP: "123456"}, auth.Success, nil},
		{"empty password", Credentials{Username: "octocat"}, auth.BadCredentials, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Authenticate(context.Background(), tt.creds)
			require.Equal(t, tt.kind, out.Kind())
			if tt.kind == auth.Success {
				assert.Equal(t, tt.creds.Username, out.Username())
				assert.Equal(t, tt.groups, out.Groups())
			}
		})
	}
}

func TestGitHub_ServerErrorIsError(t *testing.T) {
	srv := fakeGitHub(t, nil)
	v, hook := newTestGitHubVerifier(srv.URL + "/boom")

	out := v.Authenticate(context.Background(), Credentials{Username: "octocat", Password: "secret"})
	assert.Equal(t, auth.Error, out.Kind())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "orgs", hook.LastEntry().Data["step"])
}

func TestGitHub_ConfigurationErrors(t *testing.T) {
	v, _ := newTestGitHubVerifier("")
	assert.Empty(t, v.ConfigurationErrors())

	v.cfg.Organization = ""
	v.cfg.APIURL = "not a url"
	assert.Len(t, v.ConfigurationErrors(), 2)
}
