// Package auth obtains Google Calendar credentials from an OAuth client
// secrets file and a stored token.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/gmsas95/chronosage/internal/errors"
)

// Manager holds the OAuth client configuration and the token file location
type Manager struct {
	config    *oauth2.Config
	tokenFile string
}

// Load reads the client secrets file downloaded from the Google Cloud console
func Load(credentialsFile, tokenFile string, scopes []string) (*Manager, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrConfigNotFound, fmt.Errorf("read credentials %s: %w", credentialsFile, err))
	}
	return New(data, tokenFile, scopes)
}

// New builds a Manager from client secrets JSON
func New(credentialsJSON []byte, tokenFile string, scopes []string) (*Manager, error) {
	cfg, err := google.ConfigFromJSON(credentialsJSON, scopes...)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrConfigInvalid, fmt.Errorf("parse credentials: %w", err))
	}
	return &Manager{config: cfg, tokenFile: tokenFile}, nil
}

// Config exposes the underlying OAuth configuration
func (m *Manager) Config() *oauth2.Config {
	return m.config
}

// AuthURL returns the consent page URL for a one-time authorisation
func (m *Manager) AuthURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorisation code for a token and saves it
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.config.Exchange(ctx, code)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrUnauthorized, fmt.Errorf("exchange code: %w", err))
	}
	if err := saveToken(m.tokenFile, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// TokenSource returns a refreshing token source backed by the token file.
// Refreshed tokens are written back so the next start does not refresh
// again.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := loadToken(m.tokenFile)
	if err != nil {
		return nil, err
	}
	src := &savingSource{
		base: m.config.TokenSource(ctx, tok),
		path: m.tokenFile,
		last: tok.AccessToken,
	}
	return oauth2.ReuseTokenSource(tok, src), nil
}

// HasToken reports whether a token file exists
func (m *Manager) HasToken() bool {
	_, err := os.Stat(m.tokenFile)
	return err == nil
}

type savingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		// Losing the write only costs one extra refresh later.
		_ = saveToken(s.path, tok)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.ErrTokenMissing
	}
	if err != nil {
		return nil, fmt.Errorf("open token: %w", err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, errors.WrapAs(errors.ErrTokenMissing, fmt.Errorf("decode token: %w", err))
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, path)
}
