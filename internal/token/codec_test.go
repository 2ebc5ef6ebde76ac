package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newHSCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(Config{
		Issuer:     "warden",
		Audience:   "warden-clients",
		AccessTTL:  time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
		Method:     MethodHS256,
		Secret:     testSecret,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func sampleClaims() AccessClaims {
	c := AccessClaims{
		Name:     "User One",
		TenantID: "tenant-a",
		Tenants: []TenantClaim{
			{ID: "tenant-a", Roles: []string{"member"}},
			{ID: "tenant-privileged", Privileged: true},
		},
		Roles: []RoleClaim{
			{ServiceID: "auth-service", RoleName: "admin"},
			{ServiceID: "billing", RoleName: "viewer"},
		},
	}
	c.Subject = "u1"
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero access ttl", Config{RefreshTTL: time.Hour, Method: MethodHS256, Secret: testSecret}},
		{"zero refresh ttl", Config{AccessTTL: time.Hour, Method: MethodHS256, Secret: testSecret}},
		{"short secret", Config{AccessTTL: time.Hour, RefreshTTL: time.Hour, Method: MethodHS256, Secret: []byte("short")}},
		{"unknown method", Config{AccessTTL: time.Hour, RefreshTTL: time.Hour, Method: "rs512", Secret: testSecret}},
		{"ed25519 without key", Config{AccessTTL: time.Hour, RefreshTTL: time.Hour, Method: MethodEd25519}},
		{"excessive leeway", Config{AccessTTL: time.Hour, RefreshTTL: time.Hour, Method: MethodHS256, Secret: testSecret, Leeway: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAccessRoundTrip(t *testing.T) {
	c := newHSCodec(t)
	in := sampleClaims()

	signed, err := c.IssueAccess(in)
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}

	out, err := c.ParseAccess(signed)
	if err != nil {
		t.Fatalf("ParseAccess() error: %v", err)
	}

	if out.Subject != in.Subject || out.Name != in.Name || out.TenantID != in.TenantID {
		t.Errorf("identity mismatch: got %+v", out)
	}
	if !reflect.DeepEqual(out.Tenants, in.Tenants) {
		t.Errorf("tenants mismatch: got %+v, want %+v", out.Tenants, in.Tenants)
	}
	if !reflect.DeepEqual(out.Roles, in.Roles) {
		t.Errorf("roles mismatch: got %+v, want %+v", out.Roles, in.Roles)
	}
	if out.Issuer != "warden" {
		t.Errorf("expected issuer warden, got %q", out.Issuer)
	}
	if len(out.Audience) != 1 || out.Audience[0] != "warden-clients" {
		t.Errorf("unexpected audience %v", out.Audience)
	}
	if out.ExpiresAt == nil || out.IssuedAt == nil {
		t.Fatal("expected exp and iat to be set")
	}
	if got := out.ExpiresAt.Sub(out.IssuedAt.Time); got != time.Hour {
		t.Errorf("expected 1h lifetime, got %v", got)
	}
}

func TestParseAccess_Expired(t *testing.T) {
	c := newHSCodec(t)
	c.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	signed, err := c.IssueAccess(sampleClaims())
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}

	c.now = time.Now
	_, err = c.ParseAccess(signed)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if errors.Is(err, ErrInvalidSignature) {
		t.Fatal("expiry must be distinguishable from a signature failure")
	}
}

func TestParseAccess_AlteredPayload(t *testing.T) {
	c := newHSCodec(t)
	signed, err := c.IssueAccess(sampleClaims())
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}

	parts := strings.Split(signed, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	m["sub"] = "attacker"
	tampered, _ := json.Marshal(m)
	parts[1] = base64.RawURLEncoding.EncodeToString(tampered)

	_, err = c.ParseAccess(strings.Join(parts, "."))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseAccess_Malformed(t *testing.T) {
	c := newHSCodec(t)
	for _, s := range []string{"", "abc", "a.b", "a.b.c.d", "not.a.token"} {
		_, err := c.ParseAccess(s)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseAccess(%q): expected ErrMalformed, got %v", s, err)
		}
	}
}

func TestParseAccess_WrongKey(t *testing.T) {
	c := newHSCodec(t)
	other, err := New(Config{
		Issuer: "warden", Audience: "warden-clients",
		AccessTTL: time.Hour, RefreshTTL: time.Hour,
		Method: MethodHS256, Secret: []byte("ffffffffffffffffffffffffffffffff"),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	signed, err := other.IssueAccess(sampleClaims())
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}
	if _, err := c.ParseAccess(signed); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseAccess_WrongAudience(t *testing.T) {
	c := newHSCodec(t)
	other, err := New(Config{
		Issuer: "warden", Audience: "someone-else",
		AccessTTL: time.Hour, RefreshTTL: time.Hour,
		Method: MethodHS256, Secret: testSecret,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	signed, err := other.IssueAccess(sampleClaims())
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}
	if _, err := c.ParseAccess(signed); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("expected ErrInvalidClaims, got %v", err)
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	c := newHSCodec(t)

	access, err := c.IssueAccess(sampleClaims())
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}
	refresh, err := c.IssueRefresh("u1")
	if err != nil {
		t.Fatalf("IssueRefresh() error: %v", err)
	}

	if _, err := c.ParseRefresh(access); !errors.Is(err, ErrWrongType) {
		t.Errorf("access token accepted as refresh: %v", err)
	}
	if _, err := c.ParseAccess(refresh.Token); !errors.Is(err, ErrWrongType) {
		t.Errorf("refresh token accepted as access: %v", err)
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	c := newHSCodec(t)
	r, err := c.IssueRefresh("u1")
	if err != nil {
		t.Fatalf("IssueRefresh() error: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected a jti")
	}

	claims, err := c.ParseRefresh(r.Token)
	if err != nil {
		t.Fatalf("ParseRefresh() error: %v", err)
	}
	if claims.Subject != "u1" || claims.ID != r.ID {
		t.Errorf("unexpected claims %+v", claims)
	}
	if got := time.Until(r.ExpiresAt); got < 7*24*time.Hour-time.Minute {
		t.Errorf("expected ~7 day lifetime, got %v", got)
	}
}

func TestRefreshExpired(t *testing.T) {
	c := newHSCodec(t)
	c.now = func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }
	r, err := c.IssueRefresh("u1")
	if err != nil {
		t.Fatalf("IssueRefresh() error: %v", err)
	}
	c.now = time.Now
	if _, err := c.ParseRefresh(r.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestEd25519_VerifierCannotIssue(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	issuer, err := New(Config{
		Issuer: "warden", AccessTTL: time.Hour, RefreshTTL: time.Hour,
		Method: MethodEd25519, PrivateKey: priv, PublicKey: pub, KeyID: "k1",
	})
	if err != nil {
		t.Fatalf("New(issuer) error: %v", err)
	}
	verifier, err := New(Config{
		Issuer: "warden", AccessTTL: time.Hour, RefreshTTL: time.Hour,
		Method: MethodEd25519, PublicKey: pub, KeyID: "k1",
	})
	if err != nil {
		t.Fatalf("New(verifier) error: %v", err)
	}

	signed, err := issuer.IssueAccess(sampleClaims())
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}
	claims, err := verifier.ParseAccess(signed)
	if err != nil {
		t.Fatalf("verifier ParseAccess() error: %v", err)
	}
	if claims.Subject != "u1" {
		t.Errorf("expected sub u1, got %q", claims.Subject)
	}

	if _, err := verifier.IssueAccess(sampleClaims()); !errors.Is(err, ErrCannotSign) {
		t.Fatalf("expected ErrCannotSign, got %v", err)
	}
}

func TestEd25519_MismatchedKeys(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	_, err := New(Config{
		AccessTTL: time.Hour, RefreshTTL: time.Hour,
		Method: MethodEd25519, PrivateKey: priv, PublicKey: pub,
	})
	if err == nil {
		t.Fatal("expected error for mismatched key pair")
	}
}

func TestPublicJWKS(t *testing.T) {
	if keys := newHSCodec(t).PublicJWKS().Keys; len(keys) != 0 {
		t.Errorf("hs256 must not publish keys, got %d", len(keys))
	}

	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	c, err := New(Config{
		AccessTTL: time.Hour, RefreshTTL: time.Hour,
		Method: MethodEd25519, PrivateKey: priv, PublicKey: pub, KeyID: "k1",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	jwks := c.PublicJWKS()
	if len(jwks.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(jwks.Keys))
	}
	k := jwks.Keys[0]
	if k.Algorithm != "EdDSA" || k.Use != "sig" || k.KeyID != "k1" {
		t.Errorf("unexpected jwk %+v", k)
	}
	if got, ok := k.Key.(ed25519.PublicKey); !ok || !got.Equal(pub) {
		t.Error("jwk key does not match the public key")
	}

	raw, err := json.Marshal(jwks)
	if err != nil {
		t.Fatalf("marshaling jwks: %v", err)
	}
	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshaling jwks: %v", err)
	}
	if len(doc.Keys) != 1 || doc.Keys[0]["kty"] != "OKP" || doc.Keys[0]["crv"] != "Ed25519" {
		t.Fatalf("unexpected jwks document %s", raw)
	}
	x, err := base64.RawURLEncoding.DecodeString(doc.Keys[0]["x"])
	if err != nil {
		t.Fatalf("decoding x: %v", err)
	}
	if !ed25519.PublicKey(x).Equal(pub) {
		t.Error("jwk x does not match the public key")
	}
}
