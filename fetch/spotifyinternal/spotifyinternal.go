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

// This package implements the spotify-internal data source: endpoints of
// Spotify's partner API that the public Web API doesn't expose. Requests
// carry a generated device ID the way the web player does.
package spotifyinternal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/fetch"
)

const Name = "spotify-internal"

// Client talks to the internal partner API.
type Client struct {
	http     http.Client
	baseURL  string
	deviceId string
	logger   *slog.Logger
}

// we maintain a single client instance shared by all spotify-internal tasks
var instance *Client

// creates a client from the spotify-internal data source config, or returns
// the existing instance
func newClient() (*Client, error) {
	if instance != nil {
		return instance, nil
	}
	source := config.DataSources[Name]
	if source.URL == "" {
		return nil, fmt.Errorf("No URL configured for the %s data source", Name)
	}
	timeout := 30 * time.Second
	if source.Timeout > 0 {
		timeout = time.Duration(source.Timeout) * time.Second
	}
	instance = &Client{
		http:     fetch.SecureHttpClient(timeout),
		baseURL:  source.URL,
		deviceId: uuid.NewString(),
		logger:   fetch.ClientLogger(Name),
	}
	return instance, nil
}

func (c *Client) get(ctx context.Context, resource string) (json.RawMessage, error) {
	requestURL := fmt.Sprintf("%s/%s", c.baseURL, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Device-Id", c.deviceId)

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
		// the session has been flagged; retrying other items would dig the
		// hole deeper
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

func init() {
	fetch.Register(Name, "related-artists", fetch.Registration{
		New: newRelatedArtists,
	})
}

// Builds the related-artists fetch function: the artists Spotify relates to
// one input artist.
func newRelatedArtists(params any) (fetch.Function, error) {
	client, err := newClient()
	if err != nil {
		return fetch.Function{}, err
	}
	return fetch.Function{
		Single: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var id string
			if err := json.Unmarshal(input, &id); err != nil {
				return nil, fmt.Errorf("Spotify inputs must be string ids: %s", input)
			}
			body, err := client.get(ctx, fmt.Sprintf("artists/%s/related", id))
			if err != nil {
				return nil, err
			}
			var envelope struct {
				Artists []json.RawMessage `json:"artists"`
			}
			if err := json.Unmarshal(body, &envelope); err != nil {
				return nil, err
			}
			if envelope.Artists == nil {
				envelope.Artists = []json.RawMessage{}
			}
			return json.Marshal(map[string]any{
				"id":              id,
				"related_artists": envelope.Artists,
			})
		},
	}, nil
}
