// internal/middleware/jwt.go
package middleware

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"contract-service/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are issued by the external identity provider.
type Claims struct {
	UserID   string `json:"uid"`
	Role     string `json:"role,omitempty"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

// Identity resolves the claims into the value the core works with.
func (c *Claims) Identity() domain.Identity {
	role := domain.RoleUser
	if c.Role == string(domain.RoleAdmin) {
		role = domain.RoleAdmin
	}
	return domain.Identity{ExternalID: c.UserID, Role: role, Verified: c.Verified}
}

type Verifier struct {
	pubKeys  map[string]*rsa.PublicKey // kid -> pub
	defPub   *rsa.PublicKey
	issuer   string
	audience string
}

func NewVerifier(def *rsa.PublicKey, issuer, audience string) *Verifier {
	return &Verifier{
		pubKeys:  map[string]*rsa.PublicKey{},
		defPub:   def,
		issuer:   issuer,
		audience: audience,
	}
}

func (v *Verifier) AddKey(kid string, pub *rsa.PublicKey) {
	v.pubKeys[kid] = pub
}

func (v *Verifier) ParseAndValidate(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := new(Claims)
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			if k, ok := v.pubKeys[kid]; ok {
				return k, nil
			}
		}
		return v.defPub, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// LoadRSAPublicKeyFromPEM reads a PKIX or PKCS1 encoded RSA public key.
func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if block.Type != "PUBLIC KEY" && block.Type != "RSA PUBLIC KEY" {
		return nil, fmt.Errorf("invalid PEM public key type: %s", block.Type)
	}

	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if rsaPub, err2 := x509.ParsePKCS1PublicKey(block.Bytes); err2 == nil {
			return rsaPub, nil
		}
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return pub, nil
}
