package config

import (
	"io"
	"net/url"

	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// Redacted returns a copy of c with secrets replaced, suitable for printing.
func (c Config) Redacted() Config {
	out := c
	out.TLS.Key = mask(c.TLS.Key)
	out.API.Token = mask(c.API.Token)
	out.Auth.LDAP.BindPassword = mask(c.Auth.LDAP.BindPassword)
	out.Auth.AzureAD.ClientSecret = mask(c.Auth.AzureAD.ClientSecret)
	out.Session.DatabaseURL = maskURL(c.Session.DatabaseURL)
	out.Session.RedisURL = maskURL(c.Session.RedisURL)
	if len(c.TLS.Cert) > 64 {
		out.TLS.Cert = c.TLS.Cert[:64] + "..."
	}
	return out
}

// WriteYAML prints the redacted effective configuration.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
