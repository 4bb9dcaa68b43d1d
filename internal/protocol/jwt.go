package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DecodedJWT is the display view of a JWT. The signature is never verified.
type DecodedJWT struct {
	Header    map[string]any `json:"header"`
	Claims    map[string]any `json:"claims"`
	Signature string         `json:"signature,omitempty"`
}

// IsJWT returns true if the string has the 3-part JWT structure.
func IsJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

// DecodeJWT decodes a JWT's header and claims without verifying its signature.
// Tokens with an unknown or missing alg are still decoded.
func DecodeJWT(token string) (*DecodedJWT, error) {
	claims := jwt.MapClaims{}
	tok, parts, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil && !(errors.Is(err, jwt.ErrTokenUnverifiable) && tok != nil) {
		return nil, fmt.Errorf("decode jwt: %w", err)
	}
	d := &DecodedJWT{
		Header: tok.Header,
		Claims: map[string]any(claims),
	}
	if len(parts) == 3 {
		d.Signature = parts[2]
	}
	return d, nil
}

// ExtractJWTHeaderInfo extracts the algorithm and key ID from a JWT header.
func ExtractJWTHeaderInfo(token string) (alg, kid string) {
	d, err := DecodeJWT(token)
	if err != nil {
		return
	}
	alg, _ = d.Header["alg"].(string)
	kid, _ = d.Header["kid"].(string)
	return
}

// DecodeTokenClaims decodes the JWT-shaped values among id_token and access_token for display.
// Opaque tokens are skipped.
func DecodeTokenClaims(tokens map[string]any) map[string]*DecodedJWT {
	var out map[string]*DecodedJWT
	for _, name := range []string{"id_token", "access_token"} {
		raw, _ := tokens[name].(string)
		if !IsJWT(raw) {
			continue
		}
		d, err := DecodeJWT(raw)
		if err != nil {
			continue
		}
		if out == nil {
			out = make(map[string]*DecodedJWT)
		}
		out[name] = d
	}
	return out
}
