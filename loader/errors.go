package loader

import "errors"

var (
	ErrMappingFailed    = errors.New("mapping failed")
	ErrRelocationFailed = errors.New("relocation failed")
	ErrUnresolvedImport = errors.New("unresolved import")
	ErrInvalidState     = errors.New("invalid state")
)
