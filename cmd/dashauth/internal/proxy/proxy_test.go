package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ForwardsToTLSUpstream(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = io.WriteString(w, "dashboard")
	}))
	defer upstream.Close()

	log, _ := test.NewNullLogger()
	p, err := New(Options{Upstream: upstream.URL + "/", Insecure: true, Logger: log})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://gateway.example/api/v1/login/status?x=1", nil)
	req.Header.Set("Authorization", "Bearer sa-token")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "dashboard", rr.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "/api/v1/login/status", got.URL.Path)
	assert.Equal(t, "x=1", got.URL.RawQuery)
	assert.Equal(t, "Bearer sa-token", got.Header.Get("Authorization"))

	u, _ := url.Parse(upstream.URL)
	assert.Equal(t, u.Host, got.Host)
	assert.Equal(t, "gateway.example", got.Header.Get("X-Forwarded-Host"))
}

func TestNew_VerifiesUpstreamCertificateByDefault(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("request must not reach an unverified upstream")
	}))
	defer upstream.Close()

	log, _ := test.NewNullLogger()
	p, err := New(Options{Upstream: upstream.URL, Logger: log})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestNew_InvalidUpstream(t *testing.T) {
	for _, u := range []string{"", "not a url", "://x", "/relative"} {
		_, err := New(Options{Upstream: u})
		assert.Error(t, err, u)
	}
}
