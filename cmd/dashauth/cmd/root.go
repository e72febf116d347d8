package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  = logrus.New()
)

// flagKeys binds persistent flags to configuration keys so that an explicit
// flag beats the file and the environment.
var flagKeys = map[string]string{
	"environment": "environment",
	"upstream":    "upstream",
	"provider":    "auth.provider",
	"http-port":   "host.http_port",
	"https-port":  "host.https_port",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"db-url":      "session.database_url",
}

var rootCmd = &cobra.Command{
	Use:   "dashauth",
	Short: "Authenticating gateway for the Kubernetes Dashboard",
	Long: `dashauth sits in front of the Kubernetes Dashboard. It verifies users against
LDAP, GitHub, Azure AD or an htpasswd file, maps them to a service account and
forwards their requests with that service account's token.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		flags := cmd.Root().PersistentFlags()
		for flag, key := range flagKeys {
			if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
		if err := readConfigFile(v); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return configureLogger(cfg.Log)
	},
}

func readConfigFile(v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// No SetConfigType: it would also match an extensionless "dashauth",
		// which is the binary itself when run from its own directory.
		v.SetConfigName("dashauth")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dashauth")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	logger.WithField("file", v.ConfigFileUsed()).Debug("Using config file")
	return nil
}

func configureLogger(lc config.LogConfig) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)

	switch strings.ToLower(lc.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log.format must be text or json, got %q", lc.Format)
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./dashauth.yaml or /etc/dashauth/dashauth.yaml)")
	flags.String("environment", "", "production or development (env: DASHAUTH_ENVIRONMENT)")
	flags.String("upstream", "", "Dashboard address (env: DASHAUTH_UPSTREAM, PROXY_UPSTREAM)")
	flags.String("provider", "", "Authentication provider (env: DASHAUTH_AUTH_PROVIDER, AUTH_PROVIDER)")
	flags.Int("http-port", 0, "HTTP port (env: DASHAUTH_HOST_HTTP_PORT, PROXY_PORT)")
	flags.Int("https-port", 0, "HTTPS port (env: DASHAUTH_HOST_HTTPS_PORT, PROXY_PORT_SSL)")
	flags.String("log-level", "", "Log level (env: DASHAUTH_LOG_LEVEL)")
	flags.String("log-format", "", "text or json (env: DASHAUTH_LOG_FORMAT)")
	flags.String("db-url", "", "Session database URL (env: DASHAUTH_SESSION_DATABASE_URL)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
