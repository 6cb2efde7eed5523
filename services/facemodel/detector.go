// Package facemodelsvc runs face detection on a remote face model service.
package facemodelsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/face"
)

const jpegQuality = 85

// Detector implements face.Detector by posting JPEG frames to {baseURL}/detect.
type Detector struct {
	baseURL  string
	maxWidth int
	http     *retryablehttp.Client
}

var _ face.Detector = (*Detector)(nil)

func NewDetector(conf *core.Config, logger core.Logger) *Detector {
	hc := retryablehttp.NewClient()
	// single quick retry, frames are polled anyway
	hc.RetryMax = 1
	hc.RetryWaitMin = conf.Submit.RetryWaitMin
	hc.RetryWaitMax = conf.Submit.RetryWaitMin
	hc.HTTPClient.Timeout = conf.Collaborator.Timeout
	hc.Logger = logger

	return &Detector{
		baseURL:  strings.TrimRight(conf.FaceModel.BaseURL, "/"),
		maxWidth: conf.FaceModel.MaxFrameWidth,
		http:     hc,
	}
}

type detectResponse struct {
	Faces []face.Detection `json:"faces"`
}

func (d *Detector) Detect(ctx context.Context, frame image.Image) ([]face.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Downscale(frame, d.maxWidth), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "jpeg.Encode")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", buf.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "POST /detect")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("face model: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, errors.Wrap(err, "decoding detections")
	}
	return dr.Faces, nil
}

// Downscale returns src scaled down to at most maxWidth pixels wide, keeping its aspect ratio.
// src is returned as is when it is already narrow enough or maxWidth <= 0.
func Downscale(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return src
	}
	scale := float64(maxWidth) / float64(b.Dx())
	h := int(math.Max(1, math.Round(float64(b.Dy())*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}
