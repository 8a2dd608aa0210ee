package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	at, err := NewAccessToken("s3cret", 42, "lee@school.example", "STUDENT", 15)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseAccessToken("s3cret", at.Token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "42" || claims.Email != "lee@school.example" || claims.Role != "STUDENT" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestAccessToken_Rejects(t *testing.T) {
	at, _ := NewAccessToken("s3cret", 42, "a@x", "STUDENT", 15)
	if _, err := ParseAccessToken("other", at.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: %v", err)
	}

	expired, _ := NewAccessToken("s3cret", 42, "a@x", "STUDENT", -1)
	if _, err := ParseAccessToken("s3cret", expired.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: %v", err)
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "42"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := ParseAccessToken("s3cret", none); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("alg none accepted: %v", err)
	}
}

func TestRefreshToken(t *testing.T) {
	rt, err := NewRefreshToken(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(rt.Raw) != 96 {
		t.Errorf("raw length = %d", len(rt.Raw))
	}
	if h := HashRefreshRaw(rt.Raw); len(h) != 64 || h == rt.Raw {
		t.Errorf("hash = %q", h)
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword(hash, "correct horse") || VerifyPassword(hash, "wrong") {
		t.Error("bcrypt verify mismatch")
	}
	if _, err := HashPassword(strings.Repeat("x", 73), 4); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("73 byte password: %v", err)
	}
	if _, err := HashPassword("short", 99); err != nil {
		t.Errorf("out of range cost should fall back: %v", err)
	}
}
