package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

// AzureADVerifier authenticates with the OAuth2 resource owner password grant
// against an Azure AD tenant. Groups are the object IDs returned by the
// Graph getMemberGroups call.
type AzureADVerifier struct {
	cfg        config.AzureADConfig
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewAzureADVerifier returns the password-grant verifier.
func NewAzureADVerifier(cfg config.AuthConfig, log logrus.FieldLogger) *AzureADVerifier {
	return &AzureADVerifier{
		cfg:        cfg.AzureAD,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

func (v *AzureADVerifier) Name() string { return "azuread" }

func (v *AzureADVerifier) ConfigurationErrors() []string {
	var errs []string
	if v.cfg.Tenant == "" {
		errs = append(errs, "No Azure AD tenant provided.")
	}
	if v.cfg.ClientID == "" {
		errs = append(errs, "No Azure AD client id provided.")
	}
	if v.cfg.ClientSecret == "" {
		errs = append(errs, "No Azure AD client secret provided.")
	}
	return errs
}

func (v *AzureADVerifier) oauthConfig() *oauth2.Config {
	authority := strings.TrimSuffix(v.cfg.Authority, "/")
	return &oauth2.Config{
		ClientID:     v.cfg.ClientID,
		ClientSecret: v.cfg.ClientSecret,
		Scopes:       v.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, v.cfg.Tenant),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// tokenErrorBody is the error document of the token endpoint. suberror is
// Azure specific and not exposed by oauth2.RetrieveError.
type tokenErrorBody struct {
	Error    string `json:"error"`
	SubError string `json:"suberror"`
}

func (v *AzureADVerifier) Authenticate(ctx context.Context, creds Credentials) auth.Outcome {
	if creds.Username == "" || creds.Password == "" {
		return auth.Failed(auth.BadCredentials)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
	conf := v.oauthConfig()

	token, err := conf.PasswordCredentialsToken(ctx, creds.Username, creds.Password)
	if err != nil {
		return v.tokenFailure(err, creds)
	}

	groups, err := v.memberGroups(ctx, conf.Client(ctx, token))
	if err != nil {
		v.log.WithFields(logrus.Fields{"step": "groups", "user": creds.Username}).
			WithError(err).Error("Azure AD group lookup failed")
		return auth.Failed(auth.Error)
	}
	return auth.Succeeded(creds.Username, groups)
}

func (v *AzureADVerifier) tokenFailure(err error, creds Credentials) auth.Outcome {
	log := v.log.WithFields(logrus.Fields{"step": "token", "user": creds.Username})

	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		log.WithError(err).Error("Azure AD token request failed")
		return auth.Failed(auth.Error)
	}

	var body tokenErrorBody
	if err := json.Unmarshal(rerr.Body, &body); err != nil {
		log.WithError(err).WithField("status", rerr.Response.StatusCode).Debug("Azure AD error response is not JSON")
	}
	code := rerr.ErrorCode
	if code == "" {
		code = body.Error
	}

	switch {
	case code == "invalid_client" || code == "unauthorized_client":
		log.Error("Azure AD client is misconfigured")
		return auth.Failed(auth.Error)
	case code == "invalid_grant" && body.SubError == "consent_required":
		log.Error("Azure AD client requires one-time administrator consent")
		return auth.Failed(auth.Error)
	case rerr.Response.StatusCode == http.StatusBadRequest:
		return auth.Failed(auth.BadCredentials)
	}

	log.WithError(err).Error("Azure AD token request failed")
	return auth.Failed(auth.Error)
}

// memberGroups calls getMemberGroups for the signed-in user.
func (v *AzureADVerifier) memberGroups(ctx context.Context, client *http.Client) ([]string, error) {
	payload, err := json.Marshal(map[string]bool{"securityEnabledOnly": false})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSuffix(v.cfg.GraphURL, "/") + "/me/getMemberGroups"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client.Timeout = v.httpClient.Timeout
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("graph returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var result struct {
		Value []string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode graph response: %w", err)
	}
	return result.Value, nil
}
