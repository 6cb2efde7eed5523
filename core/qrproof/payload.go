package qrproof

import (
	"encoding/json"
	"io"
	"strings"
)

// Payload is the content encoded in a displayed QR code.
type Payload struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

func NewPayload(tok Token) Payload {
	return Payload{Token: tok.Token, SessionID: tok.SessionID}
}

func (p Payload) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// ParsePayload decodes scanned QR text.
// Anything other than a single JSON object with exactly a non-empty token and sessionId is rejected.
func ParsePayload(text string) (Payload, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, ErrInvalidQrFormat.With(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Payload{}, ErrInvalidQrFormat
	}
	if strings.TrimSpace(p.Token) == "" || strings.TrimSpace(p.SessionID) == "" {
		return Payload{}, ErrInvalidQrFormat
	}
	return p, nil
}
