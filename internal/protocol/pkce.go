package protocol

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	// unreserved characters from RFC 7636 Section 4.1
	pkceCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

	VerifierLength = 64
	StateLength    = 32

	ChallengeMethodS256 = "S256"
)

// PKCE holds a code verifier and its derived S256 challenge.
type PKCE struct {
	CodeVerifier        string `json:"codeVerifier"`
	CodeChallenge       string `json:"codeChallenge"`
	CodeChallengeMethod string `json:"codeChallengeMethod"`
}

// GeneratePKCE creates a fresh verifier and its S256 challenge.
func GeneratePKCE() (PKCE, error) {
	verifier, err := RandomString(VerifierLength)
	if err != nil {
		return PKCE{}, fmt.Errorf("generate code verifier: %w", err)
	}
	return PKCE{
		CodeVerifier:        verifier,
		CodeChallenge:       S256Challenge(verifier),
		CodeChallengeMethod: ChallengeMethodS256,
	}, nil
}

// GenerateState creates a random state value.
func GenerateState() (string, error) {
	s, err := RandomString(StateLength)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return s, nil
}

// S256Challenge returns BASE64URL(SHA256(verifier)) without padding.
func S256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// RandomString returns n characters drawn uniformly from the PKCE charset.
// Bytes that would bias the distribution are rejected and redrawn.
func RandomString(n int) (string, error) {
	const limit = 256 - 256%len(pkceCharset)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, pkceCharset[int(b)%len(pkceCharset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
