package auth

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind is the closed set of results a credential verifier can report.
type OutcomeKind int

const (
	// Success means the credentials were valid and the caller is allowed to proceed.
	Success OutcomeKind = iota
	// BadCredentials means the username or password was rejected.
	BadCredentials
	// OtpChallenge means the identity source asked for a one-time code.
	OtpChallenge
	// BadOtp means a one-time code was supplied and rejected.
	BadOtp
	// Forbidden means the caller proved their identity but may not use the console.
	Forbidden
	// Error means the identity source could not be queried.
	Error
)

var outcomeKindNames = map[OutcomeKind]string{
	Success:        "Success",
	BadCredentials: "BadCredentials",
	OtpChallenge:   "OtpChallenge",
	BadOtp:         "BadOtp",
	Forbidden:      "Forbidden",
	Error:          "Error",
}

// String returns the wire name of the kind, e.g. "OtpChallenge".
func (k OutcomeKind) String() string {
	if name, ok := outcomeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// RequiresOTP reports whether the client must be asked for a one-time code.
func (k OutcomeKind) RequiresOTP() bool {
	return k == OtpChallenge || k == BadOtp
}

// MarshalJSON encodes the kind as its name so clients see "BadOtp" rather than 3.
func (k OutcomeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts the names produced by MarshalJSON.
func (k *OutcomeKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode outcome kind: %w", err)
	}
	for kind, n := range outcomeKindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind %q", name)
}

// Outcome is the result of a single authentication attempt.
//
// Only a Success outcome carries an identity. Use Succeeded and Failed to
// build values; the zero value reads as Error.
type Outcome struct {
	kind     OutcomeKind
	username string
	groups   []string
}

// Succeeded returns a Success outcome for username with the given group memberships.
// An empty username cannot be a verified identity and yields an Error outcome.
func Succeeded(username string, groups []string) Outcome {
	if username == "" {
		return Failed(Error)
	}
	return Outcome{
		kind:     Success,
		username: username,
		groups:   append([]string(nil), groups...),
	}
}

// Failed returns an outcome of the given non-success kind.
// Passing Success is a programming error and yields an Error outcome.
func Failed(kind OutcomeKind) Outcome {
	if kind == Success {
		kind = Error
	}
	return Outcome{kind: kind}
}

// Kind returns the outcome kind.
func (o Outcome) Kind() OutcomeKind {
	if o.kind == Success && o.username == "" {
		return Error
	}
	return o.kind
}

// OK reports whether the outcome is a Success.
func (o Outcome) OK() bool { return o.Kind() == Success }

// Username returns the verified username, or "" for non-success outcomes.
func (o Outcome) Username() string { return o.username }

// Groups returns a copy of the verified group memberships.
func (o Outcome) Groups() []string {
	return append([]string(nil), o.groups...)
}

// String implements fmt.Stringer for log output.
func (o Outcome) String() string {
	if o.OK() {
		return fmt.Sprintf("%s(%s)", o.kind, o.username)
	}
	return o.Kind().String()
}
