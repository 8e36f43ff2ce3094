package storage

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// SupportedImageTypes are the formats the backend can decode
var SupportedImageTypes = []string{"image/jpeg", "image/png", "image/bmp", "image/tiff"}

// Errors returned by DetectImage
var (
	ErrEmptyImage        = errors.New("image is empty")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image too large")
)

// DetectImage checks size and content type of data and returns the detected MIME type
func DetectImage(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), maxBytes)
	}

	mtype := mimetype.Detect(data)
	for _, supported := range SupportedImageTypes {
		if mtype.Is(supported) {
			return supported, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mtype.String())
}
