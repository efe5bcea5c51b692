// Package pkce implements the S256 proof-key checks of RFC 7636 as required
// by OAuth 2.1. The plain method is not supported.
package pkce

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/oauth2"
)

const (
	MethodS256 = "S256"

	MinVerifierLength = 43
	MaxVerifierLength = 128

	// challengeLength is the base64url length of a SHA-256 digest.
	challengeLength = 43
)

var (
	ErrMissingChallenge   = errors.New("code_challenge is required")
	ErrUnsupportedMethod  = errors.New("code_challenge_method must be S256")
	ErrMalformedChallenge = errors.New("code_challenge is malformed")
)

// GenerateVerifier returns a fresh high-entropy verifier (32 random bytes,
// base64url encoded).
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// ChallengeFrom computes BASE64URL(SHA256(verifier)) without padding.
func ChallengeFrom(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Verify reports whether verifier hashes to challenge. Malformed verifiers
// fail closed. The comparison runs in constant time.
func Verify(verifier, challenge string) bool {
	if !ValidVerifier(verifier) || challenge == "" {
		return false
	}
	computed := ChallengeFrom(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidVerifier checks length and the unreserved character set.
func ValidVerifier(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			return false
		}
	}
	return true
}

// ValidateChallenge is the authorize-time check of the client supplied
// challenge. An empty method defaults to S256.
func ValidateChallenge(challenge, method string) error {
	if challenge == "" {
		return ErrMissingChallenge
	}
	if method != "" && method != MethodS256 {
		return ErrUnsupportedMethod
	}
	if len(challenge) != challengeLength {
		return ErrMalformedChallenge
	}
	for i := 0; i < len(challenge); i++ {
		c := challenge[i]
		if !isAlnum(c) && c != '-' && c != '_' {
			return ErrMalformedChallenge
		}
	}
	return nil
}

func isUnreserved(c byte) bool {
	return isAlnum(c) || c == '-' || c == '.' || c == '_' || c == '~'
}

func isAlnum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
