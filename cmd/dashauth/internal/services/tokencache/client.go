package tokencache

import (
	"fmt"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

// RESTConfig builds the client configuration for the API that issues tokens.
// An empty Server uses the in-cluster configuration; an explicit Token
// overrides the mounted one.
func RESTConfig(cfg config.APIConfig) (*rest.Config, error) {
	var rc *rest.Config
	if cfg.Server == "" {
		inCluster, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster configuration: %w", err)
		}
		rc = inCluster
	} else {
		rc = &rest.Config{Host: cfg.Server}
		if cfg.CAFile != "" {
			if _, err := os.Stat(cfg.CAFile); err == nil {
				rc.TLSClientConfig.CAFile = cfg.CAFile
			}
		}
	}

	switch {
	case cfg.Token != "":
		rc.BearerToken = cfg.Token
		rc.BearerTokenFile = ""
	case cfg.TokenFile != "" && rc.BearerToken == "" && rc.BearerTokenFile == "":
		rc.BearerTokenFile = cfg.TokenFile
	}

	if cfg.Insecure {
		rc.TLSClientConfig.Insecure = true
		rc.TLSClientConfig.CAFile = ""
		rc.TLSClientConfig.CAData = nil
	}
	rc.Timeout = cfg.Timeout
	rc.UserAgent = "dashauth"
	return rc, nil
}

// NewClient returns a clientset for the API that issues tokens.
func NewClient(cfg config.APIConfig) (kubernetes.Interface, error) {
	rc, err := RESTConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return client, nil
}
