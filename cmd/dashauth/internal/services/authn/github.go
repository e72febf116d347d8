package authn

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/sirupsen/logrus"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

const githubOTPHeader = "X-GitHub-OTP"

// GitHubVerifier accepts members of a GitHub organization. Groups are the
// names of the user's teams within that organization.
type GitHubVerifier struct {
	cfg       config.GitHubConfig
	timeout   time.Duration
	transport http.RoundTripper
	log       logrus.FieldLogger
}

// NewGitHubVerifier returns the organization-membership verifier.
func NewGitHubVerifier(cfg config.AuthConfig, log logrus.FieldLogger) *GitHubVerifier {
	return &GitHubVerifier{
		cfg:     cfg.GitHub,
		timeout: cfg.Timeout,
		log:     log,
	}
}

func (v *GitHubVerifier) Name() string { return "github" }

func (v *GitHubVerifier) ConfigurationErrors() []string {
	var errs []string
	if v.cfg.Organization == "" {
		errs = append(errs, "No GitHub organization provided.")
	}
	if v.cfg.APIURL != "" {
		if u, err := url.Parse(v.cfg.APIURL); err != nil || u.Host == "" {
			errs = append(errs, "Invalid GitHub API address.")
		}
	}
	return errs
}

// client builds a GitHub client authenticating as the user. Each login gets
// its own client since the credentials differ.
func (v *GitHubVerifier) client(creds Credentials) (*github.Client, error) {
	tp := &github.BasicAuthTransport{
		Username:  creds.Username,
		Password:  creds.Password,
		OTP:       creds.OTP,
		Transport: v.transport,
	}
	httpClient := tp.Client()
	httpClient.Timeout = v.timeout

	client := github.NewClient(httpClient)
	if v.cfg.APIURL != "" {
		base, err := url.Parse(v.cfg.APIURL)
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		client.BaseURL = base
	}
	return client, nil
}

func (v *GitHubVerifier) Authenticate(ctx context.Context, creds Credentials) auth.Outcome {
	if creds.Username == "" || creds.Password == "" {
		return auth.Failed(auth.BadCredentials)
	}

	client, err := v.client(creds)
	if err != nil {
		v.log.WithField("step", "client").WithError(err).Error("GitHub client setup failed")
		return auth.Failed(auth.Error)
	}

	member, err := v.isMember(ctx, client)
	if err != nil {
		return v.failure(err, creds, "orgs")
	}
	if !member {
		return auth.Failed(auth.Forbidden)
	}

	teams, err := v.teams(ctx, client)
	if err != nil {
		return v.failure(err, creds, "teams")
	}
	return auth.Succeeded(creds.Username, teams)
}

func (v *GitHubVerifier) isMember(ctx context.Context, client *github.Client) (bool, error) {
	opts := &github.ListOptions{PerPage: 100}
	for {
		orgs, resp, err := client.Organizations.List(ctx, "", opts)
		if err != nil {
			return false, err
		}
		for _, org := range orgs {
			if strings.EqualFold(org.GetLogin(), v.cfg.Organization) {
				return true, nil
			}
		}
		if resp.NextPage == 0 {
			return false, nil
		}
		opts.Page = resp.NextPage
	}
}

func (v *GitHubVerifier) teams(ctx context.Context, client *github.Client) ([]string, error) {
	var names []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		teams, resp, err := client.Teams.ListUserTeams(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, team := range teams {
			if strings.EqualFold(team.GetOrganization().GetLogin(), v.cfg.Organization) {
				names = append(names, team.GetName())
			}
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

// failure maps a GitHub API error to an outcome.
func (v *GitHubVerifier) failure(err error, creds Credentials, step string) auth.Outcome {
	otpKind := auth.OtpChallenge
	if creds.OTP != "" {
		otpKind = auth.BadOtp
	}

	var tfa *github.TwoFactorAuthError
	if errors.As(err, &tfa) {
		return auth.Failed(otpKind)
	}

	var resp *github.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil && resp.Response.StatusCode == http.StatusUnauthorized {
		if resp.Response.Header.Get(githubOTPHeader) != "" {
			return auth.Failed(otpKind)
		}
		return auth.Failed(auth.BadCredentials)
	}

	v.log.WithFields(logrus.Fields{"step": step, "user": creds.Username}).WithError(err).Error("GitHub request failed")
	return auth.Failed(auth.Error)
}
