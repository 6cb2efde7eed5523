package biometric_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/biometric"
	testutil "github.com/trezcool/presence/tests"
)

const rpID = "presence.test"

func newVerifier(t *testing.T, auth biometric.PlatformAuthenticator, creds biometric.CredentialSource) *biometric.Verifier {
	t.Helper()
	v, err := biometric.NewVerifier(auth, creds, rpID, "https://presence.test")
	require.NoError(t, err)
	return v
}

func TestVerifier_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("verified", func(t *testing.T) {
		auth := testutil.NewPlatformAuthenticator(t, "cred-1")
		v := newVerifier(t, auth, testutil.Credentials{"stu": {auth.Credential()}})

		res, err := v.Verify(ctx, "stu", "s1")
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.Equal(t, "cred-1", res.CredentialID)
		assert.EqualValues(t, 1, res.SignCount)
	})

	tests := []struct {
		name   string
		setup  func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource
		reason core.Reason
	}{
		{
			name: "unsupported",
			setup: func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource {
				auth.Unavailable = true
				return testutil.Credentials{"stu": {auth.Credential()}}
			},
			reason: core.ReasonBiometricUnsupported,
		},
		{
			name: "declined",
			setup: func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource {
				auth.Decline = true
				return testutil.Credentials{"stu": {auth.Credential()}}
			},
			reason: core.ReasonBiometricDeclined,
		},
		{
			name: "no credential enrolled",
			setup: func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource {
				return testutil.Credentials{}
			},
			reason: core.ReasonBiometricNoCredential,
		},
		{
			name: "assertion from another credential",
			setup: func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource {
				other := auth.Credential()
				other.ID = "cred-other"
				return testutil.Credentials{"stu": {other}}
			},
			reason: core.ReasonBiometricNoCredential,
		},
		{
			name: "signature from a different key",
			setup: func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource {
				impostor := testutil.NewPlatformAuthenticator(t, "cred-1")
				return testutil.Credentials{"stu": {impostor.Credential()}}
			},
			reason: core.ReasonBiometricDeclined,
		},
		{
			name: "cloned authenticator",
			setup: func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource {
				seen := auth.Credential()
				seen.SignCount = 5
				return testutil.Credentials{"stu": {seen}}
			},
			reason: core.ReasonBiometricDeclined,
		},
		{
			name: "wrong origin",
			setup: func(auth *testutil.PlatformAuthenticator) biometric.CredentialSource {
				auth.Origin = "https://evil.test"
				return testutil.Credentials{"stu": {auth.Credential()}}
			},
			reason: core.ReasonBiometricDeclined,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			auth := testutil.NewPlatformAuthenticator(t, "cred-1")
			v := newVerifier(t, auth, tc.setup(auth))

			res, err := v.Verify(ctx, "stu", "s1")
			require.Error(t, err)
			assert.False(t, res.Verified)
			assert.Equal(t, tc.reason, core.ReasonOf(err))
		})
	}
}

func TestVerifyAssertion_tampered(t *testing.T) {
	auth := testutil.NewPlatformAuthenticator(t, "cred-1")
	challenge := []byte("0123456789abcdef0123456789abcdef")
	asrt, err := auth.GetAssertion(context.Background(), biometric.AssertionRequest{Challenge: challenge, RPID: rpID})
	require.NoError(t, err)

	require.NoError(t, biometric.VerifyAssertion(auth.Credential(), asrt, challenge, rpID, ""))

	assert.Error(t, biometric.VerifyAssertion(auth.Credential(), asrt, []byte("another challenge"), rpID, ""), "challenge")
	assert.Error(t, biometric.VerifyAssertion(auth.Credential(), asrt, challenge, "other.test", ""), "rp id")

	flagged := asrt
	flagged.AuthenticatorData = append([]byte{}, asrt.AuthenticatorData...)
	flagged.AuthenticatorData[32] = 0x01 // presence only
	assert.Error(t, biometric.VerifyAssertion(auth.Credential(), flagged, challenge, rpID, ""), "user verification flag")
}

func TestVerifyAssertion_signCount(t *testing.T) {
	ctx := context.Background()
	auth := testutil.NewPlatformAuthenticator(t, "cred-1")
	challenge := []byte("0123456789abcdef0123456789abcdef")
	cred := auth.Credential()

	for want := uint32(1); want <= 3; want++ {
		asrt, err := auth.GetAssertion(ctx, biometric.AssertionRequest{Challenge: challenge, RPID: rpID})
		require.NoError(t, err)
		assert.Equal(t, want, biometric.SignCount(asrt))
		require.NoError(t, biometric.VerifyAssertion(cred, asrt, challenge, rpID, ""))

		replayed := cred
		replayed.SignCount = want
		err = biometric.VerifyAssertion(replayed, asrt, challenge, rpID, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not increase")

		cred.SignCount = want
	}

	assert.Zero(t, biometric.SignCount(biometric.Assertion{AuthenticatorData: []byte{0x01}}))
}

func TestDecodePublicKey(t *testing.T) {
	auth := testutil.NewPlatformAuthenticator(t, "cred-1")
	pub, err := biometric.DecodePublicKey(auth.Credential().PublicKey)
	require.NoError(t, err)
	assert.Equal(t, 256, pub.Curve.Params().BitSize)

	_, err = biometric.DecodePublicKey([]byte{0xa0}) // empty map
	assert.Error(t, err)
	_, err = biometric.DecodePublicKey([]byte("not cbor"))
	assert.Error(t, err)
}
