package config

import "errors"

// Sentinel errors mirroring the teacher's pkg/config/errors.go typed-error
// style, generalized from config-registry lookups to manifest loading.
var (
	ErrManifestNotFound = errors.New("missing_manifest")
	ErrInvalidManifest  = errors.New("invalid_manifest")
)

// LoadError wraps a manifest-loading failure with file context, the same
// shape as the teacher's LoadError.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return "failed to load " + e.File + ": " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }
