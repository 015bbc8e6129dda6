// Package token produces and verifies the signed, time-limited tokens
// embedded in unsubscribe links. A token carries the subscriber's email
// and its issuance time; verification checks the HMAC signature and
// rejects tokens older than the validity window.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
)

// DefaultTTL is how long an unsubscribe link stays valid.
const DefaultTTL = 7 * 24 * time.Hour

type Codec struct {
	secret []byte
	ttl    time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Encode signs email together with the current timestamp and returns a
// URL-safe token.
func (c *Codec) Encode(email string) string {
	payload := fmt.Sprintf("%s|%d", email, c.now().Unix())
	sig := c.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload + "|" + sig))
}

// Decode verifies the token and returns the embedded email address.
// Returns apperrors.ErrInvalidToken when the signature does not match
// or the token has expired. Decode has no side effects; unsubscribing
// the returned address is the caller's step.
func (c *Codec) Decode(tok string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return "", apperrors.ErrInvalidToken
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return "", apperrors.ErrInvalidToken
	}
	email, ts, sig := parts[0], parts[1], parts[2]

	expected := c.sign(email + "|" + ts)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", apperrors.ErrInvalidToken
	}

	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", apperrors.ErrInvalidToken
	}
	if c.now().Sub(time.Unix(issued, 0)) > c.ttl {
		return "", apperrors.ErrInvalidToken
	}

	return email, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
