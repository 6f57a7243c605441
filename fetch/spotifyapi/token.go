// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package spotifyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/datafetch/dfe/fetch"
)

const defaultTokenURL = "https://accounts.spotify.com/api/token"

// a bearer token plus its expiry, as stored in the encrypted cache file
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (t cachedToken) valid() bool {
	// leave half a minute of slack so in-flight requests don't expire
	return t.AccessToken != "" && time.Now().Add(30*time.Second).Before(t.ExpiresAt)
}

// tokenManager obtains client-credentials access tokens and caches the
// current one, fernet-encrypted, on disk so restarts don't burn token grants.
type tokenManager struct {
	mutex        sync.Mutex
	http         http.Client
	tokenURL     string
	clientId     string
	clientSecret string
	cacheFile    string
	key          *fernet.Key // nil disables the on-disk cache
	token        cachedToken
	logger       *slog.Logger
}

func newTokenManager(clientId, clientSecret, cacheFile, encodedKey string,
	logger *slog.Logger) (*tokenManager, error) {
	manager := tokenManager{
		http:         fetch.SecureHttpClient(30 * time.Second),
		tokenURL:     defaultTokenURL,
		clientId:     clientId,
		clientSecret: clientSecret,
		cacheFile:    cacheFile,
		logger:       logger,
	}
	if encodedKey != "" && cacheFile != "" {
		key, err := fernet.DecodeKey(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("Invalid token cache key: %s", err.Error())
		}
		manager.key = key
	}
	return &manager, nil
}

// Returns a currently valid access token, consulting (in order) the token
// held in memory, the encrypted cache file, and the token endpoint.
func (m *tokenManager) accessToken(ctx context.Context) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.token.valid() {
		return m.token.AccessToken, nil
	}
	if token, found := m.loadCache(); found && token.valid() {
		m.token = token
		return m.token.AccessToken, nil
	}

	token, err := m.requestToken(ctx)
	if err != nil {
		return "", err
	}
	m.token = token
	m.saveCache(token)
	return m.token.AccessToken, nil
}

//-----------
// Internals
//-----------

func (m *tokenManager) requestToken(ctx context.Context) (cachedToken, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, err
	}
	req.SetBasicAuth(m.clientId, m.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return cachedToken{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedToken{}, err
	}
	// a rejected grant blocks the whole task, not a single item
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		m.logger.Error(fmt.Sprintf("Token grant rejected with status %d", resp.StatusCode))
		return cachedToken{}, &fetch.FatalError{
			Err: fetch.UpstreamError{StatusCode: resp.StatusCode, URL: m.tokenURL},
		}
	}
	if resp.StatusCode != http.StatusOK {
		return cachedToken{}, fetch.UpstreamError{StatusCode: resp.StatusCode, URL: m.tokenURL}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return cachedToken{}, err
	}
	m.logger.Info("Obtained new access token")
	return cachedToken{
		AccessToken: grant.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}, nil
}

func (m *tokenManager) loadCache() (cachedToken, bool) {
	if m.key == nil {
		return cachedToken{}, false
	}
	encrypted, err := os.ReadFile(m.cacheFile)
	if err != nil {
		return cachedToken{}, false
	}
	decrypted := fernet.VerifyAndDecrypt(encrypted, 0, []*fernet.Key{m.key})
	if decrypted == nil {
		m.logger.Warn("Token cache file failed verification; discarding it")
		return cachedToken{}, false
	}
	var token cachedToken
	if err := json.Unmarshal(decrypted, &token); err != nil {
		return cachedToken{}, false
	}
	return token, true
}

func (m *tokenManager) saveCache(token cachedToken) {
	if m.key == nil {
		return
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return
	}
	encrypted, err := fernet.EncryptAndSign(payload, m.key)
	if err != nil {
		return
	}
	if err := os.WriteFile(m.cacheFile, encrypted, 0600); err != nil {
		m.logger.Warn(fmt.Sprintf("Couldn't write token cache file: %s", err.Error()))
	}
}
