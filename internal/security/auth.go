// Package security implements C6: credential-based auth for the management
// API and sanitization of anything derived from captured child stdio,
// generalized from the teacher's pkg/masking package.
package security

import "crypto/subtle"

// CredentialHeader is the fixed header examined when auth is enabled (spec
// §4.5/§4.6). The spec leaves the exact header name/scheme as an open
// question with two acceptable shapes; this deployment standardizes on a
// custom key header exactly as one of the two source behaviours allowed.
const CredentialHeader = "X-Agent-Controller-Key"

// Authenticator holds the immutable startup credential (spec §4.6: "read
// from configuration at startup and is immutable for the process
// lifetime").
type Authenticator struct {
	credential []byte
	enabled    bool
}

// NewAuthenticator returns an Authenticator; auth is disabled when
// credential is empty.
func NewAuthenticator(credential string) *Authenticator {
	return &Authenticator{credential: []byte(credential), enabled: credential != ""}
}

// Enabled reports whether a credential was configured.
func (a *Authenticator) Enabled() bool { return a.enabled }

// Check performs a constant-time comparison against the configured
// credential, per spec §4.5 "Credential comparison is constant-time".
func (a *Authenticator) Check(presented string) bool {
	if !a.enabled {
		return true
	}
	if len(presented) != len(a.credential) {
		// still run a constant-time compare against a same-length dummy to
		// avoid leaking length via early return timing
		subtle.ConstantTimeCompare(a.credential, a.credential)
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.credential) == 1
}
