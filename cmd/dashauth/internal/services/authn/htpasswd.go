package authn

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tg123/go-htpasswd"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

// htpasswdSystems are the accepted hash schemes. Plain-text entries are
// rejected.
var htpasswdSystems = []htpasswd.PasswdParser{
	htpasswd.AcceptBcrypt,
	htpasswd.AcceptMd5,
	htpasswd.AcceptSha,
	htpasswd.AcceptSsha,
}

// HtpasswdVerifier checks credentials against an Apache htpasswd file. The
// file is read on every attempt so edits apply without a restart.
type HtpasswdVerifier struct {
	path string
	log  logrus.FieldLogger
}

// NewHtpasswdVerifier returns the htpasswd file verifier.
func NewHtpasswdVerifier(cfg config.AuthConfig, log logrus.FieldLogger) *HtpasswdVerifier {
	return &HtpasswdVerifier{path: cfg.Htpasswd.File, log: log}
}

func (v *HtpasswdVerifier) Name() string { return "htpasswd" }

func (v *HtpasswdVerifier) ConfigurationErrors() []string {
	if v.path == "" {
		return []string{"No htpasswd file provided."}
	}
	var problems []string
	_, err := htpasswd.New(v.path, htpasswdSystems, func(err error) {
		problems = append(problems, fmt.Sprintf("Ignoring htpasswd entry: %v.", err))
	})
	if err != nil {
		return []string{fmt.Sprintf("Cannot read htpasswd file: %v.", err)}
	}
	return problems
}

func (v *HtpasswdVerifier) Authenticate(_ context.Context, creds Credentials) auth.Outcome {
	if creds.Username == "" || creds.Password == "" {
		return auth.Failed(auth.BadCredentials)
	}

	file, err := htpasswd.New(v.path, htpasswdSystems, func(err error) {
		v.log.WithField("step", "parse").WithError(err).Warn("Ignoring htpasswd entry")
	})
	if err != nil {
		v.log.WithField("step", "read").WithError(err).Error("htpasswd file unreadable")
		return auth.Failed(auth.Error)
	}

	if !file.Match(creds.Username, creds.Password) {
		return auth.Failed(auth.BadCredentials)
	}
	return auth.Succeeded(creds.Username, nil)
}
