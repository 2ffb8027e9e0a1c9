// Package auth issues and verifies the HMAC-signed bearer tokens that
// resolve an entitlement owner: a registered user id or an anonymous device
// id for purchases made before sign-in.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fastingvibe/api/internal/clock"
	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrTokenExpired = errors.New("token_expired")
)

// Claims is the signed token payload.
type Claims struct {
	UserID    *snowflake.ID `json:"uid,omitempty"`
	DeviceID  string        `json:"did,omitempty"`
	ExpiresAt int64         `json:"exp"`
}

// Owner maps the claims onto an entitlement owner reference.
func (c Claims) Owner() entitlementdomain.OwnerRef {
	return entitlementdomain.OwnerRef{UserID: c.UserID, DeviceID: c.DeviceID}
}

// Verifier signs and checks bearer tokens with a shared HMAC secret.
type Verifier struct {
	secret []byte
	clock  clock.Clock
}

func NewVerifier(secret string, clk clock.Clock) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth token secret is empty")
	}
	return &Verifier{secret: []byte(secret), clock: clk}, nil
}

// Issue signs claims into a <payload>.<signature> bearer token.
func (v *Verifier) Issue(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + v.sign(encoded), nil
}

// Verify checks the token signature and expiry and returns its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	encoded, signature, found := strings.Cut(strings.TrimSpace(token), ".")
	if !found || encoded == "" || signature == "" {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(v.sign(encoded))) {
		return Claims{}, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.ExpiresAt > 0 && v.clock.Now().Unix() > claims.ExpiresAt {
		return Claims{}, ErrTokenExpired
	}
	if claims.Owner().Empty() {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueFor is a convenience for tests and token bootstrap endpoints.
func (v *Verifier) IssueFor(owner entitlementdomain.OwnerRef, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:   owner.UserID,
		DeviceID: owner.DeviceID,
	}
	if ttl > 0 {
		claims.ExpiresAt = v.clock.Now().Add(ttl).Unix()
	}
	return v.Issue(claims)
}

func (v *Verifier) sign(encoded string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
