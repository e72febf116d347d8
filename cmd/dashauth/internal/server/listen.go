package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/tlsutil"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// RedirectToHTTPS answers every plain HTTP request with a redirect to the
// same host and path on the HTTPS port. /healthz is answered directly so
// checks can use either listener.
func RedirectToHTTPS(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			HealthHandler(w, r)
			return
		}

		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if httpsPort != 443 {
			host = net.JoinHostPort(host, strconv.Itoa(httpsPort))
		}

		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// NewServers builds the listeners. With TLS the HTTP port only redirects and
// the HTTPS port serves handler; without TLS the HTTP port serves handler
// over HTTP/1.1 and h2c.
func NewServers(cfg *config.Config, handler http.Handler, material *tlsutil.Material) []*http.Server {
	if !cfg.TLS.Enabled || material == nil {
		return []*http.Server{{
			Addr:              cfg.HTTPAddr(),
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		}}
	}

	return []*http.Server{
		{
			Addr:              cfg.HTTPAddr(),
			Handler:           RedirectToHTTPS(cfg.Host.HTTPSPort),
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
		{
			Addr:              cfg.HTTPSAddr(),
			Handler:           handler,
			TLSConfig:         material.ServerConfig(),
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
	}
}

// Run serves on every server until ctx is cancelled or one of them fails,
// then shuts all of them down gracefully.
func Run(ctx context.Context, servers []*http.Server, log logrus.FieldLogger) error {
	errs := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			var err error
			if srv.TLSConfig != nil {
				log.WithField("addr", srv.Addr).Info("Listening (https)")
				err = srv.ListenAndServeTLS("", "")
			} else {
				log.WithField("addr", srv.Addr).Info("Listening (http)")
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-errs:
		log.WithError(runErr).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			if runErr == nil {
				runErr = fmt.Errorf("graceful shutdown failed: %w", err)
			}
		}
	}
	if runErr == nil {
		log.Info("Server stopped")
	}
	return runErr
}
