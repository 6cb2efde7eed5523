package biometric

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	flagUserPresent  byte = 0x01
	flagUserVerified byte = 0x04

	authDataMinLen = 37 // rpIdHash(32) | flags(1) | signCount(4)
)

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// VerifyAssertion checks asrt against cred for the given challenge and relying party.
// An empty origin skips the origin check. Once cred has a non-zero signature counter, the
// assertion's counter must exceed it; a stale counter means the authenticator was cloned.
func VerifyAssertion(cred Credential, asrt Assertion, challenge []byte, rpID, origin string) error {
	var cd clientData
	if err := json.Unmarshal(asrt.ClientDataJSON, &cd); err != nil {
		return errors.Wrap(err, "decoding client data")
	}
	if cd.Type != "webauthn.get" {
		return errors.Errorf("unexpected client data type %q", cd.Type)
	}
	if cd.Challenge != base64.RawURLEncoding.EncodeToString(challenge) {
		return errors.New("challenge mismatch")
	}
	if origin != "" && cd.Origin != origin {
		return errors.Errorf("unexpected origin %q", cd.Origin)
	}

	ad := asrt.AuthenticatorData
	if len(ad) < authDataMinLen {
		return errors.New("authenticator data too short")
	}
	rpHash := sha256.Sum256([]byte(rpID))
	if !bytes.Equal(ad[:32], rpHash[:]) {
		return errors.New("relying party mismatch")
	}
	if ad[32]&flagUserPresent == 0 || ad[32]&flagUserVerified == 0 {
		return errors.New("user not verified")
	}

	pub, err := DecodePublicKey(cred.PublicKey)
	if err != nil {
		return err
	}
	cdHash := sha256.Sum256(asrt.ClientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, ad...), cdHash[:]...))
	if !ecdsa.VerifyASN1(pub, digest[:], asrt.Signature) {
		return errors.New("invalid signature")
	}

	if count := SignCount(asrt); cred.SignCount != 0 && count <= cred.SignCount {
		return errors.Errorf("signature counter %d did not increase past %d", count, cred.SignCount)
	}
	return nil
}

// SignCount returns the authenticator's signature counter carried by asrt, or 0 if it has none.
func SignCount(asrt Assertion) uint32 {
	if len(asrt.AuthenticatorData) < authDataMinLen {
		return 0
	}
	return binary.BigEndian.Uint32(asrt.AuthenticatorData[33:37])
}
