package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Method selects the signing algorithm.
type Method string

const (
	MethodHS256   Method = "hs256"
	MethodEd25519 Method = "ed25519"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Decode failures. Expiry and signature failures are independent causes and
// are reported separately.
var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformed        = errors.New("token malformed")
	ErrWrongType        = errors.New("token type mismatch")
	ErrInvalidClaims    = errors.New("token claims invalid")
	ErrCannotSign       = errors.New("codec has no signing key")
)

// Config configures a Codec.
type Config struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Method     Method
	// Secret is the HS256 shared key.
	Secret []byte
	// PrivateKey and PublicKey are Ed25519 keys, PEM or raw. A codec with
	// only a public key can verify but not issue.
	PrivateKey []byte
	PublicKey  []byte
	KeyID      string
	Leeway     time.Duration
}

// TenantClaim describes one tenant membership embedded in an access token.
type TenantClaim struct {
	ID         string   `json:"id"`
	Roles      []string `json:"roles,omitempty"`
	Privileged bool     `json:"privileged,omitempty"`
}

// RoleClaim is one (service, role) pair embedded in an access token.
type RoleClaim struct {
	ServiceID string `json:"service_id"`
	RoleName  string `json:"role_name"`
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Name     string        `json:"name,omitempty"`
	TenantID string        `json:"tid"`
	Tenants  []TenantClaim `json:"tenants"`
	Roles    []RoleClaim   `json:"roles"`
	Type     string        `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. The ID (jti) keys the
// server-side refresh record.
type RefreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Refresh is an issued refresh token and its identifying metadata.
type Refresh struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Codec issues and verifies signed tokens.
type Codec struct {
	cfg       Config
	signKey   any
	verifyKey any
	now       func() time.Time
}

// New validates cfg and builds a Codec.
func New(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token leeway must be between 0 and 2m")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	c := &Codec{cfg: cfg, now: time.Now}

	switch cfg.Method {
	case MethodHS256:
		if len(cfg.Secret) < 32 {
			return nil, errors.New("hs256 secret must be at least 32 bytes")
		}
		c.signKey = cfg.Secret
		c.verifyKey = cfg.Secret
	case MethodEd25519:
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires a public key")
		}
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		c.verifyKey = pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			if !pub.Equal(priv.Public()) {
				return nil, errors.New("ed25519 public key does not match private key")
			}
			c.signKey = priv
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Method)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// IssueAccess signs an access token for claims. Subject, name, tenant and
// role fields come from the caller; registered time, issuer, audience and
// type fields are set here.
func (c *Codec) IssueAccess(claims AccessClaims) (string, error) {
	if claims.Subject == "" {
		return "", errors.New("access token requires a subject")
	}
	now := c.now()
	claims.Type = typeAccess
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Subject,
		Issuer:    c.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.AccessTTL)),
		ID:        uuid.NewString(),
	}
	if c.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}
	if claims.Tenants == nil {
		claims.Tenants = []TenantClaim{}
	}
	if claims.Roles == nil {
		claims.Roles = []RoleClaim{}
	}
	return c.sign(claims)
}

// IssueRefresh signs a refresh token for subject with a fresh jti.
func (c *Codec) IssueRefresh(subject string) (Refresh, error) {
	if subject == "" {
		return Refresh{}, errors.New("refresh token requires a subject")
	}
	now := c.now()
	exp := now.Add(c.cfg.RefreshTTL)
	claims := RefreshClaims{
		Type: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if c.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}
	signed, err := c.sign(claims)
	if err != nil {
		return Refresh{}, err
	}
	return Refresh{Token: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// ParseAccess verifies an access token and returns its claims.
func (c *Codec) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess {
		return nil, ErrWrongType
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (c *Codec) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh {
		return nil, ErrWrongType
	}
	if claims.ID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	if c.signKey == nil {
		return "", ErrCannotSign
	}
	t := jwt.NewWithClaims(c.method(), claims)
	if c.cfg.KeyID != "" {
		t.Header["kid"] = c.cfg.KeyID
	}
	signed, err := t.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (c *Codec) parse(tokenStr string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(c.cfg.Leeway))
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	if c.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.cfg.Audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if c.cfg.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != c.cfg.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return c.verifyKey, nil
	})
	return classify(err)
}

// classify maps jwt/v5 errors onto the codec's failure causes.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
}

func (c *Codec) method() jwt.SigningMethod {
	if c.cfg.Method == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
