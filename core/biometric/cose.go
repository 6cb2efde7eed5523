package biometric

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// COSE identifiers, RFC 8152.
const (
	coseKtyEC2    = 2
	coseAlgES256  = -7
	coseCrvP256   = 1
	p256CoordSize = 32
)

// COSEKey is an EC2 COSE_Key.
type COSEKey struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// DecodePublicKey parses a CBOR COSE_Key holding an ES256 P-256 public key.
func DecodePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	var key COSEKey
	if err := cbor.Unmarshal(data, &key); err != nil {
		return nil, errors.Wrap(err, "cbor.Unmarshal")
	}
	if key.Kty != coseKtyEC2 || key.Alg != coseAlgES256 || key.Crv != coseCrvP256 {
		return nil, errors.Errorf("unsupported COSE key (kty=%d alg=%d crv=%d)", key.Kty, key.Alg, key.Crv)
	}
	if len(key.X) != p256CoordSize || len(key.Y) != p256CoordSize {
		return nil, errors.New("invalid P-256 coordinates")
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key.X),
		Y:     new(big.Int).SetBytes(key.Y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, errors.New("point not on curve")
	}
	return pub, nil
}

// EncodePublicKey encodes pub as a CBOR COSE_Key.
func EncodePublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	key := COSEKey{
		Kty: coseKtyEC2,
		Alg: coseAlgES256,
		Crv: coseCrvP256,
		X:   pub.X.FillBytes(make([]byte, p256CoordSize)),
		Y:   pub.Y.FillBytes(make([]byte, p256CoordSize)),
	}
	data, err := cbor.Marshal(key)
	if err != nil {
		return nil, errors.Wrap(err, "cbor.Marshal")
	}
	return data, nil
}
