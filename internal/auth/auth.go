package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/justestif/spotify-listening-stats/internal/config"
)

var (
	// ErrMissingCredentials is returned when the Spotify client id or secret is not set.
	ErrMissingCredentials = errors.New("missing spotify client id or secret")

	// ErrMissingRefreshToken is returned when there is neither a cached token
	// nor a configured refresh token.
	ErrMissingRefreshToken = errors.New("missing spotify refresh token")
)

// scopes needed to read listening history and top items.
var scopes = []string{
	spotifyauth.ScopeUserReadRecentlyPlayed,
	spotifyauth.ScopeUserTopRead,
}

// NewUserClient returns a Spotify client acting as the user. The token
// cached at cache is preferred; otherwise cfg.RefreshToken seeds the first
// refresh. Rotated tokens are written back to cache.
func NewUserClient(ctx context.Context, cfg config.SpotifyConfig, cache *TokenCache) (*spotify.Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	var token *oauth2.Token
	if cache != nil {
		cached, err := cache.Load()
		if err != nil {
			return nil, fmt.Errorf("loading cached token: %w", err)
		}
		token = cached
	}
	if token == nil {
		if cfg.RefreshToken == "" {
			return nil, ErrMissingRefreshToken
		}
		// No access token: the first request triggers a refresh.
		token = &oauth2.Token{RefreshToken: cfg.RefreshToken}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
		Scopes: scopes,
	}

	src := oauthCfg.TokenSource(ctx, token)
	if cache != nil {
		src = &persistingTokenSource{src: src, cache: cache, last: token.AccessToken}
	}

	return spotify.New(oauth2.NewClient(ctx, src), spotify.WithRetry(true)), nil
}

// NewAppClient returns a Spotify client using the client-credentials flow.
// It can search and read catalog data but not user data.
func NewAppClient(ctx context.Context, cfg config.SpotifyConfig) (*spotify.Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return spotify.New(cc.Client(ctx), spotify.WithRetry(true)), nil
}

// persistingTokenSource saves each new access token to the cache.
type persistingTokenSource struct {
	src   oauth2.TokenSource
	cache *TokenCache

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		if err := s.cache.Save(token); err != nil {
			// The token is still usable for this process.
			slog.Warn("failed to cache refreshed token", "path", s.cache.Path(), "error", err)
		} else {
			s.last = token.AccessToken
		}
	}
	return token, nil
}
