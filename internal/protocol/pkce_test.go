package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestS256Challenge_RFC7636Vector(t *testing.T) {
	// RFC 7636 Appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := S256Challenge(verifier); got != want {
		t.Errorf("S256Challenge = %q, want %q", got, want)
	}
}

func TestGeneratePKCE(t *testing.T) {
	p, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE: %v", err)
	}
	if len(p.CodeVerifier) != VerifierLength {
		t.Errorf("verifier length = %d, want %d", len(p.CodeVerifier), VerifierLength)
	}
	if p.CodeChallengeMethod != "S256" {
		t.Errorf("method = %q, want S256", p.CodeChallengeMethod)
	}
	if strings.ContainsAny(p.CodeChallenge, "+/=") {
		t.Errorf("challenge %q is not unpadded base64url", p.CodeChallenge)
	}

	q, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE: %v", err)
	}
	if p.CodeVerifier == q.CodeVerifier {
		t.Error("two verifiers should differ")
	}
}

func TestGenerateState(t *testing.T) {
	s, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState: %v", err)
	}
	if len(s) != StateLength {
		t.Errorf("state length = %d, want %d", len(s), StateLength)
	}
	for _, c := range s {
		if !strings.ContainsRune(pkceCharset, c) {
			t.Errorf("state contains invalid character %q", c)
		}
	}
}

func TestRandomString_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		s, err := RandomString(n)
		if err != nil {
			t.Fatalf("RandomString: %v", err)
		}
		if len(s) != n {
			t.Fatalf("length = %d, want %d", len(s), n)
		}
		for _, c := range s {
			if !strings.ContainsRune(pkceCharset, c) {
				t.Fatalf("invalid character %q", c)
			}
		}
	})
}

func TestS256Challenge_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		verifier := rapid.StringMatching(`[A-Za-z0-9\-._~]{43,128}`).Draw(t, "verifier")
		sum := sha256.Sum256([]byte(verifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		if got := S256Challenge(verifier); got != want {
			t.Fatalf("S256Challenge(%q) = %q, want %q", verifier, got, want)
		}
	})
}
