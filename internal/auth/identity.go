package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Identity derives the account a token belongs to. JWTs are decoded without
// verification and name their "sub" (or "email") claim; opaque tokens map
// to a stable hash so the same token always reaches the same document.
// Clients use it to address their document; the server checks tokens with
// a Verifier instead.
func Identity(token string) string {
	if claims, ok := DecodeClaims(token); ok {
		if subject := claimedSubject(claims); subject != "" {
			return subject
		}
	}
	return hashIdentity(token)
}

func claimedSubject(claims map[string]any) string {
	for _, k := range []string{"sub", "email"} {
		if s, ok := claims[k].(string); ok && strings.TrimSpace(s) != "" {
			return sanitize(s)
		}
	}
	return ""
}

func hashIdentity(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "tok-" + hex.EncodeToString(sum[:8])
}

// DecodeClaims returns the payload of a JWT-shaped token.
func DecodeClaims(token string) (map[string]any, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, false
	}
	raw, err := decodeB64URL(parts[1])
	if err != nil {
		return nil, false
	}
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, false
	}
	return claims, true
}

func jwtExpiry(token string) *time.Time {
	claims, ok := DecodeClaims(token)
	if !ok {
		return nil
	}
	exp, ok := claims["exp"].(float64)
	if !ok || exp <= 0 {
		return nil
	}
	t := time.Unix(int64(exp), 0).UTC()
	return &t
}

func decodeB64URL(s string) ([]byte, error) {
	dec, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		dec2, err2 := base64.URLEncoding.DecodeString(s)
		if err2 != nil {
			return nil, err
		}
		return dec2, nil
	}
	return dec, nil
}

// sanitize keeps identities safe to use as a URL path segment.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-', r == '@':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
