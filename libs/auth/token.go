package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies the caller of a write endpoint. Role is "dispatcher" for operators
// and "service" for upstream workflows such as order placement.
type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Exp  int64  `json:"exp"`
	Iat  int64  `json:"iat"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid,omitempty"`
}

// Verifier checks a compact JWS and returns its claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

type token struct {
	header   header
	unsigned string
	payload  []byte
	sig      []byte
}

func parse(raw string) (*token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	hdr, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	t := &token{unsigned: parts[0] + "." + parts[1], payload: payload, sig: sig}
	if err := json.Unmarshal(hdr, &t.header); err != nil {
		return nil, ErrInvalidToken
	}
	return t, nil
}

func (t *token) claims(now time.Time) (*Claims, error) {
	var c Claims
	if err := json.Unmarshal(t.payload, &c); err != nil {
		return nil, ErrInvalidToken
	}
	if c.Exp > 0 && now.Unix() > c.Exp {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

func SignHS256(c Claims, secret string) (string, error) {
	hdr, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(hdr) + "." + base64.RawURLEncoding.EncodeToString(payload)
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(hmacSHA256(unsigned, secret)), nil
}

type HS256Verifier struct {
	Secret string
	Now    func() time.Time
}

func (v HS256Verifier) Verify(raw string) (*Claims, error) {
	t, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if t.header.Alg != "HS256" || !hmac.Equal(t.sig, hmacSHA256(t.unsigned, v.Secret)) {
		return nil, ErrInvalidToken
	}
	return t.claims(nowOr(v.Now))
}

// RS256Verifier resolves the signing key by the token's kid.
type RS256Verifier struct {
	Keys interface {
		Get(kid string) (*rsa.PublicKey, error)
	}
	Now func() time.Time
}

func (v RS256Verifier) Verify(raw string) (*Claims, error) {
	t, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if t.header.Alg != "RS256" || t.header.Kid == "" {
		return nil, ErrInvalidToken
	}
	key, err := v.Keys.Get(t.header.Kid)
	if err != nil {
		return nil, ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(t.unsigned))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, hash[:], t.sig); err != nil {
		return nil, ErrInvalidToken
	}
	return t.claims(nowOr(v.Now))
}

func hmacSHA256(data, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return mac.Sum(nil)
}

func nowOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
