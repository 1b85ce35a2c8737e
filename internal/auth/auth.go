// Package auth stores the user's token and turns changes to it into the
// signed-in / signed-out stream the session binder consumes.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	credFileName = "credentials.json"

	// EnvToken overrides the stored token when set.
	EnvToken = "TADA_TOKEN"
)

type TokenInfo struct {
	Token     string     `json:"token"`
	Source    string     `json:"source"`     // "env" | "file"
	CreatedAt time.Time  `json:"created_at"` // when we saved to file
	ExpiresAt *time.Time `json:"expires_at"` // optional (JWT or server-provided)
}

// Expired reports whether the token carries an expiry that has passed.
func (ti *TokenInfo) Expired(now time.Time) bool {
	return ti.ExpiresAt != nil && !ti.ExpiresAt.After(now)
}

// Credentials reads and writes the token file inside dir (normally ~/.tada).
type Credentials struct {
	dir string
}

func NewCredentials(dir string) *Credentials {
	return &Credentials{dir: dir}
}

// Dir returns the directory holding the credentials file.
func (c *Credentials) Dir() string { return c.dir }

// Path returns the credentials file path.
func (c *Credentials) Path() string { return filepath.Join(c.dir, credFileName) }

// Get returns the active token, or nil when not logged in.
func (c *Credentials) Get() (*TokenInfo, error) {
	// 1) env override
	env := strings.TrimSpace(os.Getenv(EnvToken))
	if env != "" {
		return &TokenInfo{Token: stripBearer(env), Source: "env"}, nil
	}

	// 2) file
	b, err := os.ReadFile(c.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // not logged in
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var ti TokenInfo
	if err := json.Unmarshal(b, &ti); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	ti.Token = stripBearer(ti.Token)
	if ti.Token == "" {
		return nil, nil
	}
	return &ti, nil
}

// Set stores token. When expires is nil and the token is a JWT with an
// "exp" claim, that expiry is recorded.
func (c *Credentials) Set(token string, expires *time.Time) error {
	token = stripBearer(strings.TrimSpace(token))
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if expires == nil {
		expires = jwtExpiry(token)
	}
	// ensure the directory exists with 0700
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	ti := TokenInfo{
		Token:     token,
		Source:    "file",
		CreatedAt: time.Now(),
		ExpiresAt: expires,
	}
	b, err := json.MarshalIndent(ti, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	// write with 0600 (owner-only)
	if err := os.WriteFile(c.Path(), b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Credentials) Delete() error {
	if err := os.Remove(c.Path()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// Current returns the session event matching the stored token.
func (c *Credentials) Current(now time.Time) (Event, error) {
	ti, err := c.Get()
	if err != nil {
		return SignedOut(), err
	}
	if ti == nil || ti.Expired(now) {
		return SignedOut(), nil
	}
	return SignedIn(Identity(ti.Token), ti.Token), nil
}

func stripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}
