// Package qrcode generates and validates the QR payloads attached to
// strawberry plants and renders/reads the QR images themselves.
package qrcode

import (
	"encoding/hex"
	"fmt"
	"image"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
)

// DefaultPrefix marks codes as strawberry codes ("SB").
const DefaultPrefix = "SB"

// Payload format: PREFIX_YYYYMMDD_HHMMSS_XXXXXXXX with an 8-char uppercase
// hex suffix. Lowercase suffixes are rejected.
var codePattern = regexp.MustCompile(`^[A-Z0-9]+_\d{8}_\d{6}_[0-9A-F]{8}$`)

// Generate produces a unique code for a new plant. An empty prefix falls
// back to DefaultPrefix.
func Generate(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	u := uuid.New()
	suffix := strings.ToUpper(hex.EncodeToString(u[:4]))
	return fmt.Sprintf("%s_%s_%s", prefix, now.Format("20060102_150405"), suffix)
}

// Validate reports whether content is a well-formed plant code.
func Validate(content string) bool {
	return codePattern.MatchString(content)
}

// EncodeImage renders content as a QR code image of the given pixel size.
func EncodeImage(content string, size int) (image.Image, error) {
	writer := zxqr.NewQRCodeWriter()
	matrix, err := writer.Encode(content, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return matrix, nil
}

// DecodeImage extracts a QR payload from a frame. When no code is present
// the returned error satisfies IsNotFound.
func DecodeImage(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("failed to binarize frame: %w", err)
	}
	reader := zxqr.NewQRCodeReader()
	result, err := reader.Decode(bmp, nil)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}

// IsNotFound reports whether err only means the frame held no code.
// Per-frame non-detections are steady-state noise, not failures.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(gozxing.NotFoundException)
	return ok
}
