package ctxbin

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid context binary magic")
	ErrUnsupportedMajor = errors.New("unsupported context binary major version")
	ErrCorruptFile      = errors.New("corrupt context binary")
	ErrSectionNotFound  = errors.New("context binary section not found")
	ErrInvalidGraphInfo = errors.New("invalid graph info")
)
