// Package proxy forwards authenticated requests to the upstream console.
package proxy

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/telemetry"
)

// Options configures the upstream proxy.
type Options struct {
	// Upstream is the console's base address.
	Upstream string
	// Insecure skips upstream certificate verification. The dashboard ships a
	// self-signed certificate by default.
	Insecure bool
	Logger   logrus.FieldLogger
}

// New returns a reverse proxy to opts.Upstream. The outbound Host is the
// upstream's and X-Forwarded-* headers describe the original request.
func New(opts Options) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(opts.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream must be an absolute URL")
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // upstream_insecure is an explicit opt-in
		}
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			telemetry.Inject(pr.In.Context(), pr.Out.Header)
		},
		Transport: transport,
		// Dashboard log streams and exec sessions need unbuffered responses.
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.WithFields(logrus.Fields{
				"upstream": target.Host,
				"path":     r.URL.Path,
			}).WithError(err).Warn("Upstream request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}
