package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	salt, rest, ok := strings.Cut(hash, ":")
	if !ok || salt == "" || rest == "" {
		t.Fatalf("stored form %q is not salt:hash", hash)
	}
	if strings.Contains(hash, "correct horse") {
		t.Error("plaintext leaked into stored form")
	}

	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong password", hash) {
		t.Error("wrong password accepted")
	}
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	h1, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same password are identical")
	}
	if !VerifyPassword("secret", h1) || !VerifyPassword("secret", h2) {
		t.Error("salted hashes do not verify")
	}
}

func TestVerifyPasswordMalformedStored(t *testing.T) {
	for _, stored := range []string{
		"",
		"no-separator",
		"nothex:deadbeef",
		"deadbeef:nothex",
		":",
	} {
		if VerifyPassword("anything", stored) {
			t.Errorf("malformed stored value %q verified", stored)
		}
	}
}
