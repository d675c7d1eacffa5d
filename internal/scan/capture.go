package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"
	"time"
)

const (
	// How long to wait for a usable frame before capturing best-effort.
	frameReadyTimeout = 500 * time.Millisecond

	// Dimensions used when the stream never reported any.
	fallbackWidth  = 1280
	fallbackHeight = 720

	jpegQuality = 92
)

// CapturedFrame is a frame converted to an uploadable image file.
type CapturedFrame struct {
	Name string
	Data []byte
}

// frameEncoder turns a frame into encoded image bytes.
type frameEncoder func(image.Image) ([]byte, error)

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeViaDataURL is the fallback path: render to PNG, round-trip through a
// base64 data URL, then re-encode as JPEG. Slower, but it yields the same
// image resource when the direct path is unavailable.
func encodeViaDataURL(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	payload := strings.TrimPrefix(dataURL, "data:image/png;base64,")
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("data url decode: %w", err)
	}
	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("png decode: %w", err)
	}
	return encodeJPEG(decoded)
}

// captureFrame waits (bounded) for a frame with non-zero dimensions, draws
// it onto an offscreen canvas and encodes it. The primary encoder is tried
// first; on failure the fallback path must produce an equivalent file. When
// both fail the capture yields no file and the caller skips the upload.
func captureFrame(ctx context.Context, stream Stream, code string, at time.Time, primary, fallback frameEncoder) (*CapturedFrame, error) {
	frameCtx, cancel := context.WithTimeout(ctx, frameReadyTimeout)
	defer cancel()

	frame, err := stream.Frame(frameCtx)
	if err != nil || frame == nil || frame.Bounds().Dx() == 0 || frame.Bounds().Dy() == 0 {
		// Best-effort capture with default dimensions.
		frame = image.NewRGBA(image.Rect(0, 0, fallbackWidth, fallbackHeight))
	}

	bounds := frame.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), frame, bounds.Min, draw.Src)

	data, err := primary(canvas)
	if err != nil {
		data, err = fallback(canvas)
		if err != nil {
			return nil, fmt.Errorf("frame encode failed on both paths: %w", err)
		}
	}

	name := fmt.Sprintf("capture_%s.jpg", at.Format("20060102_150405"))
	if code != "" {
		name = fmt.Sprintf("capture_%s_%s.jpg", code, at.Format("20060102_150405"))
	}
	return &CapturedFrame{Name: name, Data: data}, nil
}
