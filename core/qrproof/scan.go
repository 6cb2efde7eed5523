package qrproof

import (
	"context"
	"image"
	"time"

	"github.com/makiuchi-d/gozxing"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/media"
)

// DefaultScanInterval is how often camera frames are searched for a QR code.
const DefaultScanInterval = 250 * time.Millisecond

var errNoCode = errors.New("no QR code in frame")

// Scanner reads a QR payload on the student's device.
type Scanner interface {
	Scan(ctx context.Context) (Payload, error)
}

// Decode returns the text of the QR code found in img.
func Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", errors.Wrap(err, "gozxing.NewBinaryBitmapFromImage")
	}
	res, err := zxqrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", errNoCode
	}
	return res.GetText(), nil
}

// CameraScanner decodes QR codes from camera frames.
type CameraScanner struct {
	Camera   media.Camera
	Interval time.Duration
}

func NewCameraScanner(cam media.Camera) *CameraScanner {
	return &CameraScanner{Camera: cam, Interval: DefaultScanInterval}
}

// Scan polls the camera until a QR code is decoded or ctx is done.
// The first decoded code is final: a code that is not an attendance payload fails with InvalidQrFormat.
func (s *CameraScanner) Scan(ctx context.Context) (Payload, error) {
	stream, err := s.Camera.Open(ctx)
	if err != nil {
		return Payload{}, errors.Wrap(err, "opening camera")
	}
	defer stream.Close()

	var text string
	err = core.Poll(ctx, s.Interval, func() (bool, error) {
		frame, err := stream.Frame(ctx)
		if err != nil {
			return false, errors.Wrap(err, "reading frame")
		}
		t, err := Decode(frame)
		if err == errNoCode {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		text = t
		return true, nil
	})
	if err != nil {
		return Payload{}, err
	}
	return ParsePayload(text)
}
