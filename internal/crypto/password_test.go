package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash %q missing argon2id prefix", hash)
	}

	if err := VerifyPassword("correct horse battery staple", hash); err != nil {
		t.Errorf("VerifyPassword(correct) = %v, want nil", err)
	}
	if err := VerifyPassword("wrong", hash); !errors.Is(err, ErrMismatchedPassword) {
		t.Errorf("VerifyPassword(wrong) = %v, want ErrMismatchedPassword", err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	h1, _ := HashPassword("same password")
	h2, _ := HashPassword("same password")
	if h1 == h2 {
		t.Error("two hashes of the same password are identical; salt missing")
	}
}

func TestVerifyPasswordBadHash(t *testing.T) {
	for _, bad := range []string{"", "nothash", "$argon2id$v=19$m=1,t=1,p=1$!!!$!!!"} {
		if err := VerifyPassword("x", bad); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("VerifyPassword(%q) = %v, want ErrInvalidHash", bad, err)
		}
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken: %v", err)
	}
	b, _ := RandomToken(32)
	if a == b {
		t.Error("two random tokens are identical")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("token %q is not URL-safe", a)
	}
}
