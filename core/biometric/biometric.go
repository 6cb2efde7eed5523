// Package biometric proves possession of an enrolled platform authenticator through a public-key
// credential assertion.
package biometric

import (
	"context"
	"crypto/rand"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
)

const challengeLen = 32

var (
	ErrUnsupported = core.NewVerificationError(
		core.ReasonBiometricUnsupported,
		"this device has no fingerprint or face unlock: use a device with a platform authenticator",
	)
	ErrDeclined = core.NewVerificationError(
		core.ReasonBiometricDeclined,
		"the biometric check was cancelled or failed: try again and confirm with your fingerprint or face",
	)
	ErrNoCredential = core.NewVerificationError(
		core.ReasonBiometricNoCredential,
		"no biometric credential is registered for this device: register it from your profile first",
	)
)

// Credential is an enrolled public-key credential.
type Credential struct {
	ID        string `json:"id"` // base64url, unpadded
	PublicKey []byte `json:"publicKey"` // COSE_Key
	SignCount uint32 `json:"signCount"`
}

// AssertionRequest is passed to the platform authenticator.
type AssertionRequest struct {
	Challenge        []byte
	RPID             string
	AllowCredentials []string
}

// Assertion is the authenticator's signed answer to an AssertionRequest.
type Assertion struct {
	CredentialID      string
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
}

type (
	// PlatformAuthenticator is the device's built-in credential API.
	// GetAssertion returns ErrDeclined when the user cancels or the gesture fails.
	PlatformAuthenticator interface {
		Available(ctx context.Context) (bool, error)
		GetAssertion(ctx context.Context, req AssertionRequest) (Assertion, error)
	}

	// CredentialSource lists the credentials enrolled by a student.
	CredentialSource interface {
		Credentials(ctx context.Context, studentID string) ([]Credential, error)
	}
)

// Result is the outcome of a verified ceremony.
type Result struct {
	Verified     bool
	CredentialID string
	// SignCount is the authenticator's new signature counter, to be stored with the credential.
	SignCount uint32
}

// Verifier runs the assertion ceremony and checks its signature against the enrolled credential.
type Verifier struct {
	auth   PlatformAuthenticator
	creds  CredentialSource
	rpID   string
	origin string
}

func NewVerifier(auth PlatformAuthenticator, creds CredentialSource, rpID, origin string) (*Verifier, error) {
	if err := vala.BeginValidation().Validate(
		core.IsSet(auth, "auth"),
		core.IsSet(creds, "creds"),
		vala.StringNotEmpty(rpID, "rpID"),
	).Check(); err != nil {
		return nil, err
	}
	return &Verifier{auth: auth, creds: creds, rpID: rpID, origin: origin}, nil
}

// Available asks the platform authenticator whether it can run. Errors count as unavailable.
func (v *Verifier) Available(ctx context.Context) bool {
	ok, err := v.auth.Available(ctx)
	return err == nil && ok
}

// Verify runs the ceremony for studentID. The outcome of the real ceremony is always returned.
func (v *Verifier) Verify(ctx context.Context, studentID, sessionID string) (Result, error) {
	if !v.Available(ctx) {
		return Result{}, ErrUnsupported
	}

	creds, err := v.creds.Credentials(ctx, studentID)
	if err != nil {
		return Result{}, errors.Wrap(err, "listing credentials")
	}
	if len(creds) == 0 {
		return Result{}, ErrNoCredential
	}

	challenge := make([]byte, challengeLen)
	if _, err := rand.Read(challenge); err != nil {
		return Result{}, errors.Wrap(err, "generating challenge")
	}
	allowed := make([]string, len(creds))
	for i, c := range creds {
		allowed[i] = c.ID
	}

	asrt, err := v.auth.GetAssertion(ctx, AssertionRequest{Challenge: challenge, RPID: v.rpID, AllowCredentials: allowed})
	if err != nil {
		if core.ReasonOf(err) != "" || ctx.Err() != nil {
			return Result{}, err
		}
		return Result{}, ErrDeclined.With(err)
	}

	var cred *Credential
	for i := range creds {
		if creds[i].ID == asrt.CredentialID {
			cred = &creds[i]
			break
		}
	}
	if cred == nil {
		return Result{}, ErrNoCredential
	}

	if err := VerifyAssertion(*cred, asrt, challenge, v.rpID, v.origin); err != nil {
		return Result{}, ErrDeclined.With(err)
	}
	return Result{Verified: true, CredentialID: cred.ID, SignCount: SignCount(asrt)}, nil
}
