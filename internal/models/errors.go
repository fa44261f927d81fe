package models

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("...: %w", Err...)
// and test with errors.Is. Anything not matching one of these is internal.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
)
