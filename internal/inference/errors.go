package inference

import "errors"

var (
	// ErrPrefill wraps any failure while running the prefill graph. No
	// output exists when it is returned.
	ErrPrefill = errors.New("prefill failed")
	// ErrDecode wraps an execute failure inside the decode loop. Output
	// accumulated before the failing step is still valid.
	ErrDecode = errors.New("decode failed")
	// ErrConfig marks a contract violation in run parameters.
	ErrConfig = errors.New("invalid run configuration")
)
