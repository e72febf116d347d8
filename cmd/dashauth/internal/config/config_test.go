package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
)

func loadYAML(t *testing.T, content string) *Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dashauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

// TestLoad_Defaults tests that every key has a usable default
func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, EnvironmentProduction, cfg.Environment)
	assert.Equal(t, "https://kubernetes-dashboard.kube-system.svc.cluster.local:8443/", cfg.Upstream)
	assert.Equal(t, 80, cfg.Host.HTTPPort)
	assert.Equal(t, 443, cfg.Host.HTTPSPort)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Auth.Timeout)
	assert.Equal(t, "sAMAccountName", cfg.Auth.LDAP.UserAttribute)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "dashauth.session", cfg.Session.CookieName)
	assert.True(t, cfg.Auth.ACL.IsEmpty())
	assert.Equal(t, EnvironmentProduction, cfg.Observability.Environment)
}

// TestLoad_WithEnvironmentVariables tests that DASHAUTH_ prefixed environment variables work
func TestLoad_WithEnvironmentVariables(t *testing.T) {
	t.Setenv("DASHAUTH_UPSTREAM", "https://env-dashboard:8443/")
	t.Setenv("DASHAUTH_AUTH_PROVIDER", "GitHub")
	t.Setenv("DASHAUTH_AUTH_ACL", "kube-system/viewer")
	t.Setenv("DASHAUTH_API_TIMEOUT", "3s")
	t.Setenv("DASHAUTH_HOST_HTTPS_PORT", "8443")
	t.Setenv("DASHAUTH_ENVIRONMENT", "Development")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "https://env-dashboard:8443/", cfg.Upstream)
	assert.Equal(t, "github", cfg.Auth.Provider)
	assert.Equal(t, auth.FallbackACL("kube-system/viewer"), cfg.Auth.ACL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 8443, cfg.Host.HTTPSPort)
	assert.True(t, cfg.IsDevelopment())
}

// TestLoad_LegacyEnvironmentVariables tests the environment names of earlier releases
func TestLoad_LegacyEnvironmentVariables(t *testing.T) {
	t.Setenv("PROXY_UPSTREAM", "https://legacy:8443/")
	t.Setenv("AUTH_PROVIDER", "ldap")
	t.Setenv("LDAP_SERVER", "ldaps://dc.example.com")
	t.Setenv("GITHUB_ORGANIZATION", "example")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "https://legacy:8443/", cfg.Upstream)
	assert.Equal(t, "ldap", cfg.Auth.Provider)
	assert.Equal(t, "ldaps://dc.example.com", cfg.Auth.LDAP.Server)
	assert.Equal(t, "example", cfg.Auth.GitHub.Organization)
}

// TestLoad_PrefixedBeatsLegacy tests that the DASHAUTH_ name wins when both are set
func TestLoad_PrefixedBeatsLegacy(t *testing.T) {
	t.Setenv("PROXY_UPSTREAM", "https://legacy:8443/")
	t.Setenv("DASHAUTH_UPSTREAM", "https://current:8443/")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "https://current:8443/", cfg.Upstream)
}

// TestLoad_WithConfigFile tests config file loading
func TestLoad_WithConfigFile(t *testing.T) {
	cfg := loadYAML(t, `
upstream: "https://file-dashboard:8443/"
auth:
  provider: ldap
  timeout: 5s
  ldap:
    server: ldap://dc
    base_dn: dc=example,dc=com
session:
  store: database
  database_url: "postgres://dashauth:secret@db/dashauth"
  ttl: 1h
`)

	assert.Equal(t, "https://file-dashboard:8443/", cfg.Upstream)
	assert.Equal(t, "ldap", cfg.Auth.Provider)
	assert.Equal(t, 5*time.Second, cfg.Auth.Timeout)
	assert.Equal(t, "ldap://dc", cfg.Auth.LDAP.Server)
	assert.Equal(t, "dc=example,dc=com", cfg.Auth.LDAP.BaseDN)
	assert.Equal(t, "database", cfg.Session.Store)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
}

// TestLoad_EnvOverridesFile tests that environment variables take precedence over the config file
func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DASHAUTH_AUTH_PROVIDER", "github")

	cfg := loadYAML(t, `
auth:
  provider: ldap
`)
	assert.Equal(t, "github", cfg.Auth.Provider)
}

func TestLoad_ACLForms(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want auth.ACL
	}{
		{
			name: "shorthand string",
			yaml: "auth:\n  acl: kube-system/viewer\n",
			want: auth.FallbackACL("kube-system/viewer"),
		},
		{
			name: "ordered group list",
			yaml: `
auth:
  acl:
    fallback: kube-system/viewer
    users:
      - user: Alice
        serviceAccount: kube-system/admin
    groups:
      - group: Zeta
        serviceAccount: kube-system/zeta
      - group: Alpha
        serviceAccount: kube-system/alpha
`,
			want: auth.ACL{
				Fallback: "kube-system/viewer",
				Users:    map[string]string{"Alice": "kube-system/admin"},
				Groups: []auth.GroupRule{
					{Group: "Zeta", ServiceAccount: "kube-system/zeta"},
					{Group: "Alpha", ServiceAccount: "kube-system/alpha"},
				},
			},
		},
		{
			name: "group map keeps document order",
			yaml: `
auth:
  acl:
    groups:
      ops: kube-system/ops
      dev: kube-system/dev
`,
			want: auth.ACL{
				Groups: []auth.GroupRule{
					{Group: "ops", ServiceAccount: "kube-system/ops"},
					{Group: "dev", ServiceAccount: "kube-system/dev"},
				},
			},
		},
		{
			name: "map keys keep their case",
			yaml: `
auth:
  acl:
    fallback: kube-system/viewer
    users:
      Alice: kube-system/admin
    groups:
      GroupB: kube-system/group-b
      GroupA: kube-system/group-a
`,
			want: auth.ACL{
				Fallback: "kube-system/viewer",
				Users:    map[string]string{"Alice": "kube-system/admin"},
				Groups: []auth.GroupRule{
					{Group: "GroupB", ServiceAccount: "kube-system/group-b"},
					{Group: "GroupA", ServiceAccount: "kube-system/group-a"},
				},
			},
		},
		{
			name: "user map",
			yaml: `
auth:
  acl:
    users:
      bob: team/bob
`,
			want: auth.ACL{Users: map[string]string{"bob": "team/bob"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadYAML(t, tt.yaml)
			assert.Equal(t, tt.want, cfg.Auth.ACL)
		})
	}
}

func TestLoad_ACLMapResolvesMixedCaseNames(t *testing.T) {
	cfg := loadYAML(t, `
auth:
  acl:
    fallback: kube-system/viewer
    users:
      Alice: kube-system/admin
    groups:
      GroupA: kube-system/group-a
`)

	sa, ok := auth.Resolve("Alice", nil, cfg.Auth.ACL)
	require.True(t, ok)
	assert.Equal(t, auth.ServiceAccount{Namespace: "kube-system", Name: "admin"}, sa)

	sa, ok = auth.Resolve("foo", []string{"GroupA", "GroupB"}, cfg.Auth.ACL)
	require.True(t, ok)
	assert.Equal(t, auth.ServiceAccount{Namespace: "kube-system", Name: "group-a"}, sa)

	sa, ok = auth.Resolve("alice", nil, cfg.Auth.ACL)
	require.True(t, ok)
	assert.Equal(t, auth.ServiceAccount{Namespace: "kube-system", Name: "viewer"}, sa)
}

func TestLoad_ACLEnvOverridesFile(t *testing.T) {
	t.Setenv("DASHAUTH_AUTH_ACL", "kube-system/from-env")
	cfg := loadYAML(t, "auth:\n  acl:\n    users:\n      Alice: kube-system/admin\n")
	assert.Equal(t, auth.FallbackACL("kube-system/from-env"), cfg.Auth.ACL)
}

func TestLoad_ACLRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  acl:\n    roles: {}\n"), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	cfg.API.Server = "https://api.example.com:6443"
	cfg.API.Token = "token"
	cfg.Auth.Provider = "test"
	cfg.Auth.ACL = auth.FallbackACL("kube-system/viewer")
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig(t)
	audit := Validate(cfg)
	assert.True(t, audit.OK(), "errors: %v", audit.Errors)
	assert.Empty(t, audit.Warnings)
}

func TestValidate_EmptyACLFallsBack(t *testing.T) {
	cfg := validConfig(t)
	cfg.Auth.ACL = auth.ACL{}

	audit := Validate(cfg)
	assert.True(t, audit.OK())
	assert.Equal(t, DefaultFallbackServiceAccount, cfg.Auth.ACL.Fallback)
	require.Len(t, audit.Warnings, 1)
	assert.Contains(t, audit.Warnings[0], DefaultFallbackServiceAccount)
}

func TestValidate_UpstreamForcedToHTTPS(t *testing.T) {
	cfg := validConfig(t)
	cfg.Upstream = "http://dashboard:9090/"

	audit := Validate(cfg)
	assert.True(t, audit.OK())
	assert.Equal(t, "https://dashboard:9090/", cfg.Upstream)
	require.Len(t, audit.Warnings, 1)
	assert.Contains(t, audit.Warnings[0], "http://dashboard:9090/")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no provider", func(c *Config) { c.Auth.Provider = "" }, "No authentication provider"},
		{"bad upstream", func(c *Config) { c.Upstream = "::" }, "Invalid dashboard address"},
		{"bad acl", func(c *Config) { c.Auth.ACL = auth.FallbackACL("/") }, "ACL fallback"},
		{"no token", func(c *Config) { c.API.Token = ""; c.API.TokenFile = "" }, "Service account token not present"},
		{"unknown store", func(c *Config) { c.Session.Store = "etcd" }, "Unknown session store"},
		{"redis without url", func(c *Config) { c.Session.Store = "redis" }, "session.redis_url"},
		{"database without url", func(c *Config) { c.Session.Store = "database" }, "session.database_url"},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }, "Unknown environment"},
		{"missing static dir", func(c *Config) { c.Static.Dir = "/does/not/exist" }, "Static content directory"},
		{"sample ratio above one", func(c *Config) { c.Observability.SampleRatio = 1.5 }, "observability.sample_ratio"},
		{"grpc protocol", func(c *Config) { c.Observability.OTLPProtocol = "grpc" }, "Unsupported OTLP protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			audit := Validate(cfg)
			require.False(t, audit.OK())
			assert.Contains(t, audit.Errors[0], tt.want)
		})
	}
}

func TestValidate_APIServerRequiredOutsideCluster(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	cfg := validConfig(t)
	cfg.API.Server = ""

	audit := Validate(cfg)
	require.False(t, audit.OK())
	assert.Contains(t, audit.Errors[0], "API server address not set")
}

func TestWriteYAML_RedactsSecrets(t *testing.T) {
	cfg := validConfig(t)
	cfg.API.Token = "super-secret-token"
	cfg.Auth.LDAP.BindPassword = "ldap-secret"
	cfg.Session.DatabaseURL = "postgres://dashauth:db-secret@db/dashauth"
	cfg.Session.RedisURL = "redis://:redis-secret@cache:6379/0"

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))

	out := buf.String()
	assert.NotContains(t, out, "super-secret-token")
	assert.NotContains(t, out, "ldap-secret")
	assert.NotContains(t, out, "db-secret")
	assert.NotContains(t, out, "redis-secret")
	assert.Contains(t, out, "kubernetes-dashboard.kube-system.svc.cluster.local:8443")
	assert.Contains(t, out, "timeout: 10s")

	assert.Equal(t, "super-secret-token", cfg.API.Token, "original must be untouched")
}
