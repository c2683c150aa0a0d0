package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/gmsas95/chronosage/internal/errors"
)

const scope = "https://www.googleapis.com/auth/calendar"

func newTokenServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var issued atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"at-%d","token_type":"Bearer","refresh_token":"rt","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &issued
}

func credentials(tokenURL string) []byte {
	return []byte(fmt.Sprintf(`{"installed":{
		"client_id":"cid.apps.googleusercontent.com",
		"client_secret":"secret",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":%q,
		"redirect_uris":["http://localhost"]}}`, tokenURL))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	credFile := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(credFile, credentials("https://oauth2.example.com/token"), 0600))

	m, err := Load(credFile, filepath.Join(dir, "token.json"), []string{scope})
	require.NoError(t, err)
	assert.Equal(t, "cid.apps.googleusercontent.com", m.Config().ClientID)
	assert.False(t, m.HasToken())

	u, err := url.Parse(m.AuthURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "state-1", u.Query().Get("state"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.Equal(t, scope, u.Query().Get("scope"))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "absent.json"), "", nil)
	assert.Equal(t, errors.ErrConfigNotFound.Code, errors.GetCode(err))

	_, err = New([]byte(`{"nope":true}`), "", nil)
	assert.Equal(t, errors.ErrConfigInvalid.Code, errors.GetCode(err))
}

func TestExchangeSavesToken(t *testing.T) {
	srv, _ := newTokenServer(t)
	tokenFile := filepath.Join(t.TempDir(), "nested", "token.json")

	m, err := New(credentials(srv.URL), tokenFile, []string{scope})
	require.NoError(t, err)

	tok, err := m.Exchange(context.Background(), "code-123")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.True(t, m.HasToken())

	info, err := os.Stat(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	ts, err := m.TokenSource(context.Background())
	require.NoError(t, err)
	got, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken, "valid token is reused")
}

func TestTokenSourceMissing(t *testing.T) {
	m, err := New(credentials("https://oauth2.example.com/token"), filepath.Join(t.TempDir(), "token.json"), nil)
	require.NoError(t, err)

	_, err = m.TokenSource(context.Background())
	assert.Equal(t, errors.ErrTokenMissing.Code, errors.GetCode(err))
}

func TestTokenSourceRefreshesAndPersists(t *testing.T) {
	srv, issued := newTokenServer(t)
	tokenFile := filepath.Join(t.TempDir(), "token.json")

	expired := &oauth2.Token{
		AccessToken:  "stale",
		TokenType:    "Bearer",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(-time.Hour),
	}
	data, err := json.Marshal(expired)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tokenFile, data, 0600))

	m, err := New(credentials(srv.URL), tokenFile, []string{scope})
	require.NoError(t, err)

	ts, err := m.TokenSource(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, int32(1), issued.Load())

	var saved oauth2.Token
	raw, err := os.ReadFile(tokenFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, "at-1", saved.AccessToken)
}
