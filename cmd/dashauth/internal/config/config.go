package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
)

const (
	// EnvPrefix prefixes every environment variable read by Load (DASHAUTH_UPSTREAM, ...).
	EnvPrefix = "DASHAUTH"

	// EnvironmentDevelopment enables development-only features such as the test provider.
	EnvironmentDevelopment = "development"
	// EnvironmentProduction is the default environment.
	EnvironmentProduction = "production"

	// DefaultFallbackServiceAccount is used when the ACL is left empty.
	DefaultFallbackServiceAccount = "kube-system/kubernetes-dashboard"

	inClusterTokenFile = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	inClusterCAFile    = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

// Config holds the application configuration
type Config struct {
	// Environment is "production" or "development"
	Environment string `mapstructure:"environment" yaml:"environment"`

	// Upstream is the base address of the protected console
	Upstream string `mapstructure:"upstream" yaml:"upstream"`

	// UpstreamInsecure skips certificate verification towards the console,
	// which ships with a self-signed certificate by default
	UpstreamInsecure bool `mapstructure:"upstream_insecure" yaml:"upstream_insecure"`

	Host          HostConfig          `mapstructure:"host" yaml:"host"`
	TLS           TLSConfig           `mapstructure:"tls" yaml:"tls"`
	API           APIConfig           `mapstructure:"api" yaml:"api"`
	Auth          AuthConfig          `mapstructure:"auth" yaml:"auth"`
	Session       SessionConfig       `mapstructure:"session" yaml:"session"`
	Static        StaticConfig        `mapstructure:"static" yaml:"static"`
	CORS          CORSConfig          `mapstructure:"cors" yaml:"cors"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// HostConfig controls the listeners.
type HostConfig struct {
	Address   string `mapstructure:"address" yaml:"address"`
	HTTPPort  int    `mapstructure:"http_port" yaml:"http_port"`
	HTTPSPort int    `mapstructure:"https_port" yaml:"https_port"`
}

// TLSConfig holds the certificate served on the HTTPS listener.
// Cert and Key accept PEM or base64-encoded PEM; the *File variants take precedence.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Cert     string `mapstructure:"cert" yaml:"cert"`
	Key      string `mapstructure:"key" yaml:"key"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}

// APIConfig describes how to reach the Kubernetes API that issues service account tokens.
// An empty Server selects the in-cluster configuration.
type APIConfig struct {
	Server    string        `mapstructure:"server" yaml:"server"`
	Token     string        `mapstructure:"token" yaml:"token"`
	TokenFile string        `mapstructure:"token_file" yaml:"token_file"`
	CAFile    string        `mapstructure:"ca_file" yaml:"ca_file"`
	Insecure  bool          `mapstructure:"insecure" yaml:"insecure"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// TokenTTL bounds how long a cached service account token is reused.
	// Zero keeps tokens for the lifetime of the process.
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// AuthConfig selects and configures the credential verifier.
type AuthConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ACL      auth.ACL      `mapstructure:"acl" yaml:"acl"`

	LDAP     LDAPConfig     `mapstructure:"ldap" yaml:"ldap"`
	GitHub   GitHubConfig   `mapstructure:"github" yaml:"github"`
	AzureAD  AzureADConfig  `mapstructure:"azuread" yaml:"azuread"`
	Htpasswd HtpasswdConfig `mapstructure:"htpasswd" yaml:"htpasswd"`
}

// LDAPConfig configures the directory-bind verifier.
type LDAPConfig struct {
	Server        string `mapstructure:"server" yaml:"server"`
	BindUser      string `mapstructure:"bind_user" yaml:"bind_user"`
	BindPassword  string `mapstructure:"bind_password" yaml:"bind_password"`
	BaseDN        string `mapstructure:"base_dn" yaml:"base_dn"`
	UserAttribute string `mapstructure:"user_attribute" yaml:"user_attribute"`
	// Group, when set, is the DN of a group the user must be a member of.
	Group string `mapstructure:"group" yaml:"group"`
}

// GitHubConfig configures the organization-membership verifier.
type GitHubConfig struct {
	Organization string `mapstructure:"organization" yaml:"organization"`
	// APIURL overrides https://api.github.com/ for GitHub Enterprise.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
}

// AzureADConfig configures the OAuth2 password-grant verifier.
type AzureADConfig struct {
	Tenant       string   `mapstructure:"tenant" yaml:"tenant"`
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	Authority    string   `mapstructure:"authority" yaml:"authority"`
	GraphURL     string   `mapstructure:"graph_url" yaml:"graph_url"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
}

// HtpasswdConfig configures the htpasswd file verifier.
type HtpasswdConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// SessionConfig controls where sessions live and how long.
type SessionConfig struct {
	// Store is "memory", "database" or "redis"
	Store       string        `mapstructure:"store" yaml:"store"`
	DatabaseURL string        `mapstructure:"database_url" yaml:"database_url"`
	RedisURL    string        `mapstructure:"redis_url" yaml:"redis_url"`
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries  int           `mapstructure:"max_entries" yaml:"max_entries"`
	CookieName  string        `mapstructure:"cookie_name" yaml:"cookie_name"`
}

// StaticConfig locates the login surface. An empty Dir serves the embedded page.
type StaticConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// CORSConfig lists origins allowed to call the login API from another origin.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ObservabilityConfig holds OpenTelemetry settings. Telemetry is disabled
// when OTLPEndpoint is empty.
type ObservabilityConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol" yaml:"otlp_protocol"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	Environment    string `mapstructure:"environment" yaml:"environment"`

	// SampleRatio is the fraction of new traces recorded; child spans follow their parent.
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// IsDevelopment reports whether development-only features are enabled.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvironmentDevelopment)
}

// HTTPAddr is the bind address of the plain HTTP listener.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host.Address, c.Host.HTTPPort)
}

// HTTPSAddr is the bind address of the TLS listener.
func (c *Config) HTTPSAddr() string {
	return fmt.Sprintf("%s:%d", c.Host.Address, c.Host.HTTPSPort)
}

// SetDefaults registers every key with its default so that environment
// variables are picked up for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvironmentProduction)
	v.SetDefault("upstream", "https://kubernetes-dashboard.kube-system.svc.cluster.local:8443/")
	v.SetDefault("upstream_insecure", true)

	v.SetDefault("host.address", "0.0.0.0")
	v.SetDefault("host.http_port", 80)
	v.SetDefault("host.https_port", 443)

	v.SetDefault("tls.enabled", true)
	v.SetDefault("tls.cert", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetDefault("api.server", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.token_file", inClusterTokenFile)
	v.SetDefault("api.ca_file", inClusterCAFile)
	v.SetDefault("api.insecure", false)
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.token_ttl", time.Duration(0))

	v.SetDefault("auth.provider", "")
	v.SetDefault("auth.timeout", 10*time.Second)
	v.SetDefault("auth.acl", "")
	v.SetDefault("auth.ldap.server", "")
	v.SetDefault("auth.ldap.bind_user", "")
	v.SetDefault("auth.ldap.bind_password", "")
	v.SetDefault("auth.ldap.base_dn", "")
	v.SetDefault("auth.ldap.user_attribute", "sAMAccountName")
	v.SetDefault("auth.ldap.group", "")
	v.SetDefault("auth.github.organization", "")
	v.SetDefault("auth.github.api_url", "")
	v.SetDefault("auth.azuread.tenant", "")
	v.SetDefault("auth.azuread.client_id", "")
	v.SetDefault("auth.azuread.client_secret", "")
	v.SetDefault("auth.azuread.authority", "https://login.microsoftonline.com")
	v.SetDefault("auth.azuread.graph_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("auth.azuread.scopes", []string{"User.Read", "GroupMember.Read.All"})
	v.SetDefault("auth.htpasswd.file", "")

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.database_url", "")
	v.SetDefault("session.redis_url", "")
	v.SetDefault("session.ttl", 12*time.Hour)
	v.SetDefault("session.max_entries", 10000)
	v.SetDefault("session.cookie_name", "dashauth.session")

	v.SetDefault("static.dir", "")
	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http/protobuf")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "dashauth")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "")
	v.SetDefault("observability.sample_ratio", 1.0)
}

// legacyEnv maps configuration keys to the environment variable names used by
// earlier releases. They are consulted after the DASHAUTH_ names.
var legacyEnv = map[string][]string{
	"upstream":                 {"PROXY_UPSTREAM"},
	"tls.cert":                 {"PROXY_CERT"},
	"tls.key":                  {"PROXY_KEY"},
	"host.http_port":           {"PROXY_PORT"},
	"host.https_port":          {"PROXY_PORT_SSL"},
	"auth.provider":            {"AUTH_PROVIDER"},
	"api.token":                {"AUTH_TOKEN"},
	"auth.ldap.server":         {"LDAP_SERVER"},
	"auth.ldap.bind_user":      {"LDAP_BIND_USER"},
	"auth.ldap.bind_password":  {"LDAP_BIND_PASSWORD"},
	"auth.ldap.base_dn":        {"LDAP_BASE_DN"},
	"auth.ldap.user_attribute": {"LDAP_USER_ATTRIBUTE"},
	"auth.ldap.group":          {"LDAP_USER_GROUP"},
	"auth.github.organization": {"GITHUB_ORGANIZATION"},
}

// envName returns the DASHAUTH_ variable for a configuration key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load reads configuration from the global viper instance.
// Precedence: defaults < config file < environment < bound flags.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v. The caller is responsible for pointing
// v at a config file (ReadInConfig) and binding flags.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key, envName(key)}, names...)...); err != nil {
			return nil, fmt.Errorf("bind environment for %s: %w", key, err)
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		ACLDecodeHook(),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if raw, ok := os.LookupEnv(envName("auth.acl")); ok {
		cfg.Auth.ACL = auth.FallbackACL(strings.TrimSpace(raw))
	} else if path := v.ConfigFileUsed(); path != "" && v.InConfig("auth.acl") {
		acl, found, err := readFileACL(path)
		if err != nil {
			return nil, fmt.Errorf("decode configuration: %w", err)
		}
		if found {
			cfg.Auth.ACL = acl
		}
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Auth.Provider = strings.ToLower(strings.TrimSpace(cfg.Auth.Provider))
	if cfg.Observability.Environment == "" {
		cfg.Observability.Environment = cfg.Environment
	}

	return cfg, nil
}

// Audit collects configuration problems. Errors prevent the gateway from
// serving traffic; warnings are logged.
type Audit struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the audit found no errors.
func (a *Audit) OK() bool { return len(a.Errors) == 0 }

// Errorf records a blocking problem.
func (a *Audit) Errorf(format string, args ...any) {
	a.Errors = append(a.Errors, fmt.Sprintf(format, args...))
}

// Warnf records a non-blocking problem.
func (a *Audit) Warnf(format string, args ...any) {
	a.Warnings = append(a.Warnings, fmt.Sprintf(format, args...))
}

// Merge appends other's findings.
func (a *Audit) Merge(other Audit) {
	a.Errors = append(a.Errors, other.Errors...)
	a.Warnings = append(a.Warnings, other.Warnings...)
}

// Validate checks and sanitizes the configuration in place. Verifier and
// certificate checks live with their packages and are merged by the caller.
func Validate(cfg *Config) Audit {
	var audit Audit

	if cfg.Environment != EnvironmentProduction && cfg.Environment != EnvironmentDevelopment {
		audit.Errorf("Unknown environment %q (expected %q or %q).", cfg.Environment, EnvironmentProduction, EnvironmentDevelopment)
	}

	inCluster := os.Getenv("KUBERNETES_SERVICE_HOST") != ""
	if cfg.API.Server == "" && !inCluster {
		if cfg.IsDevelopment() {
			audit.Errorf("API server address not set. Configure api.server manually.")
		} else {
			audit.Errorf("API server address not set. Provide KUBERNETES_SERVICE_HOST and KUBERNETES_SERVICE_PORT or set api.server.")
		}
	}
	if cfg.API.Server != "" {
		if u, err := url.Parse(cfg.API.Server); err != nil || u.Host == "" {
			audit.Errorf("Invalid API server address %q.", cfg.API.Server)
		}
	}

	if cfg.API.Token == "" {
		if _, err := os.Stat(cfg.API.TokenFile); cfg.API.TokenFile == "" || err != nil {
			audit.Errorf("Service account token not present. Set api.token or mount a token with serviceaccounts:list and secrets:get at %s.", inClusterTokenFile)
		}
	}
	if cfg.API.Timeout <= 0 {
		audit.Errorf("api.timeout must be positive.")
	}

	if cfg.Auth.Provider == "" {
		audit.Errorf("No authentication provider specified.")
	}
	if cfg.Auth.Timeout <= 0 {
		audit.Errorf("auth.timeout must be positive.")
	}

	if cfg.Auth.ACL.IsEmpty() {
		cfg.Auth.ACL.Fallback = DefaultFallbackServiceAccount
		audit.Warnf("The access control list was empty. Fallback is now %s.", DefaultFallbackServiceAccount)
	}
	for _, p := range cfg.Auth.ACL.Problems() {
		audit.Errorf("%s", p)
	}

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil || upstream.Host == "" {
		audit.Errorf("Invalid dashboard address %q (option 'upstream').", cfg.Upstream)
	} else if upstream.Scheme != "https" {
		original := cfg.Upstream
		upstream.Scheme = "https"
		cfg.Upstream = upstream.String()
		audit.Warnf("Dashboard address was %s. Using %s instead.", original, cfg.Upstream)
	}

	switch cfg.Session.Store {
	case "memory":
		if cfg.Session.MaxEntries <= 0 {
			audit.Errorf("session.max_entries must be positive.")
		}
	case "database":
		if cfg.Session.DatabaseURL == "" {
			audit.Errorf("session.database_url is required when session.store is \"database\".")
		}
	case "redis":
		if cfg.Session.RedisURL == "" {
			audit.Errorf("session.redis_url is required when session.store is \"redis\".")
		}
	default:
		audit.Errorf("Unknown session store %q (expected \"memory\", \"database\" or \"redis\").", cfg.Session.Store)
	}
	if cfg.Session.TTL <= 0 {
		audit.Errorf("session.ttl must be positive.")
	}
	if cfg.Session.CookieName == "" {
		audit.Errorf("session.cookie_name must not be empty.")
	}
	if r := cfg.Observability.SampleRatio; r < 0 || r > 1 {
		audit.Errorf("observability.sample_ratio must be between 0 and 1, got %g.", r)
	}
	switch cfg.Observability.OTLPProtocol {
	case "", "http/protobuf":
	default:
		audit.Errorf("Unsupported OTLP protocol %q (only http/protobuf is available).", cfg.Observability.OTLPProtocol)
	}

	if cfg.Static.Dir != "" {
		if st, err := os.Stat(cfg.Static.Dir); err != nil || !st.IsDir() {
			audit.Errorf("Static content directory %q does not exist.", cfg.Static.Dir)
		}
	}

	if !cfg.TLS.Enabled {
		audit.Warnf("TLS is disabled. Serve the gateway behind a TLS-terminating proxy.")
	}

	if cfg.IsDevelopment() {
		audit.Warnf("Running in development mode. Development-only providers are enabled.")
	}
	return audit
}
