package authn

import (
	"context"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
)

// TestOTP is the only one-time code the test verifier accepts.
const TestOTP = "123"

// TestVerifier answers from a fixed table. It exists to exercise login flows
// end to end and refuses to work outside development mode.
//
//	foo / bar   Success with groups GroupA, GroupB
//	otp / otp   OtpChallenge without a code, Success with "123", BadOtp otherwise
//	john / doe  Forbidden
//	bad / food  Error
//	otherwise   BadCredentials
type TestVerifier struct {
	enabled bool
}

// NewTestVerifier returns the fixed-table verifier. It only authenticates when enabled.
func NewTestVerifier(enabled bool) *TestVerifier {
	return &TestVerifier{enabled: enabled}
}

func (v *TestVerifier) Name() string { return "test" }

func (v *TestVerifier) ConfigurationErrors() []string {
	if !v.enabled {
		return []string{"The test provider is only available in development mode."}
	}
	return nil
}

func (v *TestVerifier) Authenticate(_ context.Context, creds Credentials) auth.Outcome {
	if !v.enabled {
		return auth.Failed(auth.Error)
	}

	switch {
	case creds.Username == "foo" && creds.Password == "bar":
		return auth.Succeeded(creds.Username, []string{"GroupA", "GroupB"})
	case creds.Username == "otp" && creds.Password == "otp":
		switch creds.OTP {
		case "":
			return auth.Failed(auth.OtpChallenge)
		case TestOTP:
			return auth.Succeeded(creds.Username, nil)
		default:
			return auth.Failed(auth.BadOtp)
		}
	case creds.Username == "john" && creds.Password == "doe":
		return auth.Failed(auth.Forbidden)
	case creds.Username == "bad" && creds.Password == "food":
		return auth.Failed(auth.Error)
	}
	return auth.Failed(auth.BadCredentials)
}
