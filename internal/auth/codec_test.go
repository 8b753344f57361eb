package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testPrincipal() Principal {
	return Principal{
		ID:       "user-1",
		Email:    "alice@example.com",
		Username: "alice",
		Role:     RoleMember,
		IsActive: true,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	token, expiresAt, err := codec.Encode(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("expected three token segments, got %d", len(parts))
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expires_at not in the future: %v", expiresAt)
	}

	got, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != testPrincipal() {
		t.Fatalf("principal mismatch: got %+v", got)
	}
}

func TestCodecRejectsShortSecret(t *testing.T) {
	if _, err := NewCodec([]byte("too-short")); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestCodecTamperedPayload(t *testing.T) {
	codec, err := NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	token, _, err := codec.Encode(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Rewrite the role claim while keeping the original signature. The
	// payload stays valid JSON, so the failure must come from signature
	// verification alone.
	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	claims["role"] = string(RoleAdmin)
	forged, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)
	tampered := strings.Join(parts, ".")

	if _, err := codec.Decode(tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCodecExpiredToken(t *testing.T) {
	now := time.Now()
	issueClock := func() time.Time { return now.Add(-2 * time.Hour) }
	codec, err := NewCodec(testSecret, WithCodecClock(issueClock))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	token, _, err := codec.Encode(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	verifier, err := NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	if _, err := verifier.Decode(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestCodecExpiredBeatsMissingTamper(t *testing.T) {
	// An expired but untampered token must report expiry, never a
	// signature problem.
	issueClock := func() time.Time { return time.Now().Add(-48 * time.Hour) }
	codec, err := NewCodec(testSecret, WithCodecClock(issueClock))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	token, _, err := codec.Encode(testPrincipal(), time.Minute)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	verifier, _ := NewCodec(testSecret)
	_, err = verifier.Decode(token)
	if errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expired token reported as signature failure: %v", err)
	}
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestCodecMalformedTokens(t *testing.T) {
	codec, err := NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	cases := []string{
		"",
		"only-one-part",
		"two.parts",
		"not.base64.!!!",
		"a.b.c.d",
	}
	for _, raw := range cases {
		if _, err := codec.Decode(raw); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("Decode(%q): expected ErrMalformedToken, got %v", raw, err)
		}
	}
}

func TestCodecRejectsForeignAlgorithm(t *testing.T) {
	codec, err := NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	claims := Claims{
		Principal: testPrincipal(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := foreign.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign foreign token: %v", err)
	}

	if _, err := codec.Decode(signed); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for HS512 token, got %v", err)
	}
}

func TestCodecRejectsForeignSecret(t *testing.T) {
	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	token, _, err := other.Encode(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	codec, _ := NewCodec(testSecret)
	if _, err := codec.Decode(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCodecEncodeValidation(t *testing.T) {
	codec, err := NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	p := testPrincipal()
	p.ID = ""
	if _, _, err := codec.Encode(p, time.Hour); err == nil {
		t.Fatal("expected error for empty principal id")
	}

	p = testPrincipal()
	p.Role = "SUPERUSER"
	if _, _, err := codec.Encode(p, time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}

	if _, _, err := codec.Encode(testPrincipal(), 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}
