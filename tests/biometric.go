package testutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/trezcool/presence/core/biometric"
)

// PlatformAuthenticator signs assertions with an in-memory P-256 key.
type PlatformAuthenticator struct {
	Unavailable bool
	Decline     bool
	Origin      string

	key     *ecdsa.PrivateKey
	cred    biometric.Credential
	counter uint32
}

func NewPlatformAuthenticator(t *testing.T, credentialID string) *PlatformAuthenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa.GenerateKey() failed: %v", err)
	}
	pub, err := biometric.EncodePublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey() failed: %v", err)
	}
	return &PlatformAuthenticator{
		Origin: "https://presence.test",
		key:    key,
		cred:   biometric.Credential{ID: credentialID, PublicKey: pub},
	}
}

// Credential returns the enrolled credential matching the authenticator's key.
func (a *PlatformAuthenticator) Credential() biometric.Credential { return a.cred }

func (a *PlatformAuthenticator) Available(context.Context) (bool, error) {
	return !a.Unavailable, nil
}

func (a *PlatformAuthenticator) GetAssertion(_ context.Context, req biometric.AssertionRequest) (biometric.Assertion, error) {
	if a.Unavailable {
		return biometric.Assertion{}, biometric.ErrUnsupported
	}
	if a.Decline {
		return biometric.Assertion{}, biometric.ErrDeclined
	}

	cd, _ := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": base64.RawURLEncoding.EncodeToString(req.Challenge),
		"origin":    a.Origin,
	})
	rpHash := sha256.Sum256([]byte(req.RPID))
	authData := append(rpHash[:], 0x05) // UP | UV
	a.counter++
	authData = binary.BigEndian.AppendUint32(authData, a.counter)

	cdHash := sha256.Sum256(cd)
	digest := sha256.Sum256(append(append([]byte{}, authData...), cdHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		return biometric.Assertion{}, err
	}
	return biometric.Assertion{
		CredentialID:      a.cred.ID,
		AuthenticatorData: authData,
		ClientDataJSON:    cd,
		Signature:         sig,
	}, nil
}

// Credentials is a static biometric.CredentialSource.
type Credentials map[string][]biometric.Credential

func (c Credentials) Credentials(_ context.Context, studentID string) ([]biometric.Credential, error) {
	return c[studentID], nil
}
