// Package auth builds authenticated Spotify clients from stored credentials
// and keeps refreshed tokens on disk.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	configDirName = "spotify-listening-stats"
	tokenFileName = "token.json"
)

// ErrNilToken is returned when saving a nil token.
var ErrNilToken = errors.New("cannot save nil token")

// storedToken is the on-disk form of a cached token.
type storedToken struct {
	Token   *oauth2.Token `json:"token"`
	SavedAt time.Time     `json:"saved_at"`
}

// TokenCache stores the most recent user token in a single file. It is
// safe for concurrent use; writes replace the file atomically.
type TokenCache struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	savedAt time.Time
}

// DefaultTokenCache returns a TokenCache under the user config directory:
// ~/.config/spotify-listening-stats/token.json
func DefaultTokenCache() (*TokenCache, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting user config dir: %w", err)
	}
	return NewTokenCache(filepath.Join(configDir, configDirName, tokenFileName)), nil
}

// NewTokenCache creates a TokenCache at path.
func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path, now: time.Now}
}

// OpenTokenCache returns a cache at path, or at the default location when
// path is empty.
func OpenTokenCache(path string) (*TokenCache, error) {
	if path == "" {
		return DefaultTokenCache()
	}
	return NewTokenCache(path), nil
}

// Path returns the file path where tokens are stored.
func (c *TokenCache) Path() string {
	return c.path
}

// SavedAt reports when the cached token was last written, or the zero time
// if nothing has been loaded or saved.
func (c *TokenCache) SavedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.savedAt
}

// Load reads the cached token. Returns (nil, nil) if there is none.
func (c *TokenCache) Load() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if stored.Token == nil {
		return nil, nil
	}
	c.savedAt = stored.SavedAt
	return stored.Token, nil
}

// Save writes token to disk with owner-only permissions, creating the
// parent directory if needed.
func (c *TokenCache) Save(token *oauth2.Token) error {
	if token == nil {
		return ErrNilToken
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	savedAt := c.now().UTC()
	data, err := json.MarshalIndent(storedToken{Token: token, SavedAt: savedAt}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	// CreateTemp opens with 0600.
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}

	c.savedAt = savedAt
	return nil
}
