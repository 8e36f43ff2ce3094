package repository

import "errors"

var (
	// ErrInvalidSource indicates an image reference that cannot be loaded
	ErrInvalidSource = errors.New("invalid image source")

	// ErrSourceUnavailable indicates a reference scheme whose storage is not configured
	ErrSourceUnavailable = errors.New("image source storage not configured")

	// ErrHistoryDisabled indicates that no history database is configured
	ErrHistoryDisabled = errors.New("processing history is disabled")
)
