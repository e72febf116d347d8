package auth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSucceeded_CarriesIdentity(t *testing.T) {
	groups := []string{"GroupA", "GroupB"}
	o := Succeeded("foo", groups)

	assert.True(t, o.OK())
	assert.Equal(t, Success, o.Kind())
	assert.Equal(t, "foo", o.Username())
	assert.ElementsMatch(t, []string{"GroupA", "GroupB"}, o.Groups())

	// Mutating the caller's slice must not leak into the outcome.
	groups[0] = "changed"
	assert.ElementsMatch(t, []string{"GroupA", "GroupB"}, o.Groups())
}

func TestSucceeded_EmptyUsernameIsError(t *testing.T) {
	o := Succeeded("", []string{"GroupA"})
	assert.False(t, o.OK())
	assert.Equal(t, Error, o.Kind())
	assert.Empty(t, o.Groups())
}

func TestFailed_NeverCarriesIdentity(t *testing.T) {
	for _, kind := range []OutcomeKind{BadCredentials, OtpChallenge, BadOtp, Forbidden, Error} {
		o := Failed(kind)
		assert.Equal(t, kind, o.Kind())
		assert.False(t, o.OK())
		assert.Empty(t, o.Username())
		assert.Empty(t, o.Groups())
	}

	// Failed(Success) is a programming error.
	assert.Equal(t, Error, Failed(Success).Kind())
}

func TestOutcome_ZeroValueIsError(t *testing.T) {
	var o Outcome
	assert.False(t, o.OK())
	assert.Equal(t, Error, o.Kind())
}

func TestOutcomeKind_JSON(t *testing.T) {
	data, err := json.Marshal(OtpChallenge)
	require.NoError(t, err)
	assert.JSONEq(t, `"OtpChallenge"`, string(data))

	var kind OutcomeKind
	require.NoError(t, json.Unmarshal([]byte(`"Forbidden"`), &kind))
	assert.Equal(t, Forbidden, kind)

	assert.Error(t, json.Unmarshal([]byte(`"Nope"`), &kind))
}

func TestOutcomeKind_RequiresOTP(t *testing.T) {
	assert.True(t, OtpChallenge.RequiresOTP())
	assert.True(t, BadOtp.RequiresOTP())
	assert.False(t, BadCredentials.RequiresOTP())
	assert.False(t, Success.RequiresOTP())
	assert.Equal(t, "OutcomeKind(42)", OutcomeKind(42).String())
}
