package authn

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/sirupsen/logrus"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

// ldapConn is the subset of *ldap.Conn used by LDAPVerifier.
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	Unbind() error
}

// ldapDialer opens a connection to the directory at url.
type ldapDialer func(ctx context.Context, url string, timeout time.Duration) (ldapConn, error)

func dialLDAP(ctx context.Context, url string, timeout time.Duration) (ldapConn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := ldap.DialURL(url, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// LDAPVerifier authenticates against a directory using search-then-bind:
// a service account locates the user entry, then the entry DN is bound with
// the supplied password.
type LDAPVerifier struct {
	cfg     config.LDAPConfig
	timeout time.Duration
	dial    ldapDialer
	log     logrus.FieldLogger
}

// NewLDAPVerifier returns the directory verifier.
func NewLDAPVerifier(cfg config.AuthConfig, log logrus.FieldLogger) *LDAPVerifier {
	return &LDAPVerifier{
		cfg:     cfg.LDAP,
		timeout: cfg.Timeout,
		dial:    dialLDAP,
		log:     log,
	}
}

func (v *LDAPVerifier) Name() string { return "ldap" }

func (v *LDAPVerifier) ConfigurationErrors() []string {
	var errs []string
	if v.cfg.Server == "" {
		errs = append(errs, "No LDAP server provided.")
	}
	if v.cfg.BindUser == "" {
		errs = append(errs, "No LDAP bind user provided.")
	}
	if v.cfg.BindPassword == "" {
		errs = append(errs, "No LDAP bind password provided.")
	}
	if v.cfg.BaseDN == "" {
		errs = append(errs, "No LDAP base DN provided.")
	}
	return errs
}

func (v *LDAPVerifier) Authenticate(ctx context.Context, creds Credentials) auth.Outcome {
	// An empty password would be an unauthenticated bind, which most servers accept.
	if creds.Username == "" || creds.Password == "" {
		return auth.Failed(auth.BadCredentials)
	}

	timeout := v.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return auth.Failed(auth.Error)
	}

	conn, err := v.dial(ctx, v.cfg.Server, timeout)
	if err != nil {
		v.log.WithField("step", "dial").WithError(err).Error("LDAP connection failed")
		return auth.Failed(auth.Error)
	}
	defer func() {
		if err := conn.Unbind(); err != nil {
			v.log.WithField("step", "unbind").WithError(err).Debug("LDAP unbind failed")
		}
	}()
	conn.SetTimeout(timeout)

	if err := conn.Bind(v.cfg.BindUser, v.cfg.BindPassword); err != nil {
		v.log.WithField("step", "bind").WithError(err).Error("LDAP service bind failed")
		return auth.Failed(auth.Error)
	}

	req := ldap.NewSearchRequest(
		v.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		2, int(timeout/time.Second), false,
		fmt.Sprintf("(%s=%s)", v.cfg.UserAttribute, ldap.EscapeFilter(creds.Username)),
		[]string{"dn", "memberOf"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		v.log.WithField("step", "search").WithError(err).Error("LDAP directory search failed")
		return auth.Failed(auth.Error)
	}
	if res == nil || len(res.Entries) == 0 {
		return auth.Failed(auth.BadCredentials)
	}
	if len(res.Entries) > 1 {
		v.log.WithFields(logrus.Fields{"step": "search", "user": creds.Username}).
			Error("LDAP search matched more than one entry")
		return auth.Failed(auth.Error)
	}

	entry := res.Entries[0]
	memberOf := entry.GetAttributeValues("memberOf")

	if v.cfg.Group != "" && !containsDN(memberOf, v.cfg.Group) {
		return auth.Failed(auth.Forbidden)
	}

	if err := conn.Bind(entry.DN, creds.Password); err != nil {
		if !ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			v.log.WithFields(logrus.Fields{"step": "user-bind", "user": creds.Username}).
				WithError(err).Warn("LDAP user bind failed")
		}
		return auth.Failed(auth.BadCredentials)
	}

	return auth.Succeeded(creds.Username, memberOf)
}

func containsDN(dns []string, want string) bool {
	want = normalizeDN(want)
	for _, dn := range dns {
		if normalizeDN(dn) == want {
			return true
		}
	}
	return false
}

// normalizeDN folds case and whitespace around separators. It falls back to
// a case-insensitive string compare when the DN does not parse.
func normalizeDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(dn))
	}
	parts := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, a := range rdn.Attributes {
			attrs = append(attrs, strings.ToLower(a.Type)+"="+strings.ToLower(a.Value))
		}
		parts = append(parts, strings.Join(attrs, "+"))
	}
	return strings.Join(parts, ",")
}
