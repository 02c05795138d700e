package image

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error caused by bad client input.
var ErrValidation = errors.New("validation failed")

var (
	ErrNoFile       = fmt.Errorf("%w: no file uploaded", ErrValidation)
	ErrInvalidType  = fmt.Errorf("%w: only image files are allowed", ErrValidation)
	ErrFileTooLarge = fmt.Errorf("%w: file size exceeds limit", ErrValidation)
	ErrTooManyFiles = fmt.Errorf("%w: too many files", ErrValidation)
	ErrInvalidPage  = fmt.Errorf("%w: invalid page parameters", ErrValidation)
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrStorage       = errors.New("storage failure")
)
