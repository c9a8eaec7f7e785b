package pefile

import "errors"

var (
	ErrMalformedImage     = errors.New("malformed image")
	ErrUnsupportedFeature = errors.New("unsupported image feature")
)
