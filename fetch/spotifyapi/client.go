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
	"time"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/fetch"
)

const defaultBaseURL = "https://api.spotify.com/v1"

// Client talks to the Spotify Web API with a client-credentials token.
type Client struct {
	http    http.Client
	baseURL string
	tokens  *tokenManager
	logger  *slog.Logger
}

// we maintain a single client instance shared by all spotify-api tasks
var instance *Client

// creates a client from the spotify-api data source config, or returns the
// existing instance
func newClient() (*Client, error) {
	if instance != nil {
		return instance, nil
	}
	source := config.DataSources[Name]
	logger := fetch.ClientLogger(Name)

	timeout := 30 * time.Second
	if source.Timeout > 0 {
		timeout = time.Duration(source.Timeout) * time.Second
	}
	tokens, err := newTokenManager(source.Auth.ClientId, source.Auth.ClientSecret,
		source.TokenCacheFile, source.Auth.TokenKey, logger)
	if err != nil {
		return nil, err
	}
	baseURL := defaultBaseURL
	if source.URL != "" {
		baseURL = source.URL
	}
	instance = &Client{
		http:    fetch.SecureHttpClient(timeout),
		baseURL: baseURL,
		tokens:  tokens,
		logger:  logger,
	}
	return instance, nil
}

// Issues an authorized GET against the given API resource, returning the raw
// response body. Missing resources (404) surface as a plain UpstreamError;
// auth failures and rate-limit bans stop the whole task.
func (c *Client) get(ctx context.Context, resource string, query url.Values) (json.RawMessage, error) {
	token, err := c.tokens.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	requestURL := fmt.Sprintf("%s/%s", c.baseURL, resource)
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		// blocked credentials or a ban: nothing in this task can proceed
		c.logger.Error(fmt.Sprintf("Request to %s blocked with status %d",
			requestURL, resp.StatusCode))
		return nil, &fetch.FatalError{
			Err: fetch.UpstreamError{StatusCode: resp.StatusCode, URL: requestURL},
		}
	default:
		c.logger.Warn(fmt.Sprintf("Request to %s failed with status %d",
			requestURL, resp.StatusCode))
		return nil, fetch.UpstreamError{StatusCode: resp.StatusCode, URL: requestURL}
	}
}
