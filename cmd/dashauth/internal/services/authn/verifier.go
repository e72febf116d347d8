// Package authn verifies user credentials against an external identity source.
//
// Each identity source is a Verifier. Verifiers are built once at startup from
// a static factory table and looked up by case-insensitive name. Expected
// failures (wrong password, OTP required, not a member) are reported as
// auth.Outcome kinds; infrastructure failures are logged and reported as
// auth.Error. Authenticate never returns a Go error.
package authn

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

// Credentials are the values a user submits on the login form.
type Credentials struct {
	Username string
	Password string
	// OTP is the one-time code, empty when none was supplied.
	OTP string
}

// Verifier checks credentials against one identity source.
type Verifier interface {
	// Name is the lowercase key used in auth.provider.
	Name() string

	// ConfigurationErrors lists problems that prevent the verifier from working.
	// An empty result means the verifier is ready to use.
	ConfigurationErrors() []string

	// Authenticate verifies creds. The context bounds every network call.
	Authenticate(ctx context.Context, creds Credentials) auth.Outcome
}

// Factory builds a verifier from the application configuration.
// Factories must not perform I/O.
type Factory func(cfg *config.Config, log logrus.FieldLogger) Verifier

// factories is the static table of available verifiers.
var factories = map[string]Factory{
	"ldap":     func(cfg *config.Config, log logrus.FieldLogger) Verifier { return NewLDAPVerifier(cfg.Auth, log) },
	"github":   func(cfg *config.Config, log logrus.FieldLogger) Verifier { return NewGitHubVerifier(cfg.Auth, log) },
	"azuread":  func(cfg *config.Config, log logrus.FieldLogger) Verifier { return NewAzureADVerifier(cfg.Auth, log) },
	"htpasswd": func(cfg *config.Config, log logrus.FieldLogger) Verifier { return NewHtpasswdVerifier(cfg.Auth, log) },
	"test":     func(cfg *config.Config, log logrus.FieldLogger) Verifier { return NewTestVerifier(cfg.IsDevelopment()) },
}

// Registry holds the verifiers available to this process.
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry builds every verifier in the static table.
func NewRegistry(cfg *config.Config, log logrus.FieldLogger) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier, len(factories))}
	for name, factory := range factories {
		r.verifiers[name] = factory(cfg, log.WithField("provider", name))
	}
	return r
}

// NewRegistryOf builds a registry from explicit verifiers, keyed by their Name.
func NewRegistryOf(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier, len(verifiers))}
	for _, v := range verifiers {
		r.verifiers[strings.ToLower(v.Name())] = v
	}
	return r
}

// Names returns the registered verifier names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get looks up a verifier by case-insensitive name.
func (r *Registry) Get(name string) (Verifier, bool) {
	v, ok := r.verifiers[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// Validate returns the problems preventing name from being used.
func (r *Registry) Validate(name string) []string {
	v, ok := r.Get(name)
	if !ok {
		return []string{fmt.Sprintf("Unknown authentication provider %q (available: %s).", name, strings.Join(r.Names(), ", "))}
	}
	return v.ConfigurationErrors()
}
