package qrproof

import (
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

// DefaultImageSize is the side of rendered QR images, in pixels.
const DefaultImageSize = 320

// Render encodes p as a PNG QR code of size x size pixels.
func Render(p Payload, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultImageSize
	}
	png, err := qrcode.Encode(p.String(), qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "qrcode.Encode")
	}
	return png, nil
}
