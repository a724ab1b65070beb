package models

import "errors"

var (
	// Configuration
	ErrConfig = errors.New("configuration error")

	// Catalog
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrDatasetError    = errors.New("dataset error")

	// Run store
	ErrRunClosed    = errors.New("run is closed")
	ErrPathNotFound = errors.New("path not found")
	ErrMissingToken = errors.New("missing api token")

	// Hooks
	ErrTimerMissing = errors.New("node finished without a recorded start")
)
