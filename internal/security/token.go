package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token is malformed, carries a bad
// signature, uses an unexpected algorithm or has expired.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload carried by access and refresh tokens. Access tokens
// leave TokenVersion empty.
type Claims struct {
	SessionID    string `json:"session_id"`
	TokenVersion string `json:"token_version,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig selects the signing algorithm and key material. HS* algorithms
// use Secret; RS* and ES* algorithms use the PEM encoded keys.
type TokenConfig struct {
	Algorithm     string
	Secret        string
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
}

// TokenCodec issues and decodes signed tokens.
type TokenCodec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	now       func() time.Time
}

func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unsupported token algorithm %q", cfg.Algorithm)
	}

	codec := &TokenCodec{method: method, now: time.Now}

	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if cfg.Secret == "" {
			return nil, errors.New("token secret is required")
		}
		codec.signKey = []byte(cfg.Secret)
		codec.verifyKey = codec.signKey
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		if err := codec.loadRSA(cfg); err != nil {
			return nil, err
		}
	case *jwt.SigningMethodECDSA:
		if err := codec.loadECDSA(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported token algorithm %q", alg)
	}

	return codec, nil
}

func (c *TokenCodec) loadRSA(cfg TokenConfig) error {
	if len(cfg.PrivateKeyPEM) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return fmt.Errorf("parse rsa private key: %w", err)
		}
		c.signKey = key
		c.verifyKey = &key.PublicKey
	}
	if len(cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return fmt.Errorf("parse rsa public key: %w", err)
		}
		c.verifyKey = key
	}
	if c.verifyKey == nil {
		return errors.New("rsa key material is required")
	}
	return nil
}

func (c *TokenCodec) loadECDSA(cfg TokenConfig) error {
	if len(cfg.PrivateKeyPEM) > 0 {
		key, err := jwt.ParseECPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return fmt.Errorf("parse ecdsa private key: %w", err)
		}
		c.signKey = key
		c.verifyKey = &key.PublicKey
	}
	if len(cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseECPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return fmt.Errorf("parse ecdsa public key: %w", err)
		}
		c.verifyKey = key
	}
	if c.verifyKey == nil {
		return errors.New("ecdsa key material is required")
	}
	return nil
}

// Issue signs claims. It stamps a fresh jti and the issue time; a zero
// expiresAt leaves the token without an exp claim.
func (c *TokenCodec) Issue(claims Claims, expiresAt time.Time) (string, error) {
	if c.signKey == nil {
		return "", errors.New("token codec has no signing key")
	}

	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(c.now())
	claims.ExpiresAt = nil
	if !expiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token and returns its claims. Every failure is
// reported as ErrInvalidToken.
func (c *TokenCodec) Decode(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.verifyKey, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrInvalidToken)
	}
	return claims, nil
}
