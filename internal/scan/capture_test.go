package scan

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureFrameNamesFileAfterCode(t *testing.T) {
	stream := newFakeStream()
	stream.frames <- image.NewRGBA(image.Rect(0, 0, 640, 480))
	at := time.Date(2025, 12, 4, 19, 28, 15, 0, time.UTC)

	frame, err := captureFrame(context.Background(), stream, testCode, at, encodeJPEG, encodeViaDataURL)
	require.NoError(t, err)
	assert.Equal(t, "capture_"+testCode+"_20251204_192815.jpg", frame.Name)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
}

func TestCaptureFrameDefaultsDimensionsWhenStreamNotReady(t *testing.T) {
	stream := newFakeStream()
	stream.Stop()
	at := time.Date(2025, 12, 4, 19, 28, 15, 0, time.UTC)

	frame, err := captureFrame(context.Background(), stream, "", at, encodeJPEG, encodeViaDataURL)
	require.NoError(t, err)
	assert.Equal(t, "capture_20251204_192815.jpg", frame.Name)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
}

func TestCaptureFrameFallsBackOnEncoderFailure(t *testing.T) {
	stream := newFakeStream()
	stream.frames <- image.NewRGBA(image.Rect(0, 0, 8, 8))

	primary := func(image.Image) ([]byte, error) { return nil, errors.New("boom") }
	frame, err := captureFrame(context.Background(), stream, "", time.Now(), primary, encodeViaDataURL)
	require.NoError(t, err)

	_, err = jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	assert.NoError(t, err, "fallback output is still a JPEG")
}

func TestCaptureFrameErrsWhenBothEncodersFail(t *testing.T) {
	stream := newFakeStream()
	stream.frames <- image.NewRGBA(image.Rect(0, 0, 8, 8))

	broken := func(image.Image) ([]byte, error) { return nil, errors.New("boom") }
	_, err := captureFrame(context.Background(), stream, "", time.Now(), broken, broken)
	require.Error(t, err)
}

func TestEncodeViaDataURLMatchesDirectPath(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	direct, err := encodeJPEG(img)
	require.NoError(t, err)
	roundTripped, err := encodeViaDataURL(img)
	require.NoError(t, err)

	a, err := jpeg.DecodeConfig(bytes.NewReader(direct))
	require.NoError(t, err)
	b, err := jpeg.DecodeConfig(bytes.NewReader(roundTripped))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
