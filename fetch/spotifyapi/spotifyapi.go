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

// This package implements the spotify-api data source: fetch functions for
// the public Spotify Web API. Track, artist, and album lookups are batched
// (the API accepts several ids per request); the remaining task types fetch
// one input at a time.
package spotifyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/datafetch/dfe/fetch"
)

const Name = "spotify-api"

// maximum number of ids accepted per batch lookup
const (
	maxTrackIds  = 50
	maxArtistIds = 50
	maxAlbumIds  = 20
)

// number of albums requested per page of an artist-albums lookup
const albumPageSize = 50

// parameters for task types that fetch region-specific data
type RegionParams struct {
	Region string `json:"region" validate:"oneof=de us"`
}

// parameters for the artist-albums task type
type ArtistAlbumsParams struct {
	Region string `json:"region" validate:"oneof=de us"`
	// which album groups to include
	ReleaseTypes struct {
		Albums       bool `json:"albums"`
		Singles      bool `json:"singles"`
		Compilations bool `json:"compilations"`
		AppearsOn    bool `json:"appears_on"`
	} `json:"release_types"`
}

func init() {
	fetch.Register(Name, "tracks", fetch.Registration{
		NewParams: func() any { return &RegionParams{} },
		New: func(params any) (fetch.Function, error) {
			region := params.(*RegionParams).Region
			return newBatchLookup("tracks", region, maxTrackIds)
		},
	})
	fetch.Register(Name, "artists", fetch.Registration{
		New: func(params any) (fetch.Function, error) {
			return newBatchLookup("artists", "", maxArtistIds)
		},
	})
	fetch.Register(Name, "albums", fetch.Registration{
		NewParams: func() any { return &RegionParams{} },
		New: func(params any) (fetch.Function, error) {
			region := params.(*RegionParams).Region
			return newBatchLookup("albums", region, maxAlbumIds)
		},
	})
	fetch.Register(Name, "artist-albums", fetch.Registration{
		NewParams: func() any { return &ArtistAlbumsParams{} },
		New:       newArtistAlbums,
	})
	fetch.Register(Name, "playlists", fetch.Registration{
		New: newPlaylists,
	})
	fetch.Register(Name, "isrc-track-search", fetch.Registration{
		NewParams: func() any { return &RegionParams{} },
		New:       newIsrcTrackSearch,
	})
}

// Builds a batch fetch function for one of the multi-id lookup endpoints
// (/tracks, /artists, /albums). The response envelope holds one entry per
// requested id, with null marking ids the API doesn't know.
func newBatchLookup(resource, region string, maxBatch int) (fetch.Function, error) {
	client, err := newClient()
	if err != nil {
		return fetch.Function{}, err
	}
	return fetch.Function{
		Batch: func(ctx context.Context, inputs []json.RawMessage) ([]json.RawMessage, error) {
			ids, err := parseIds(inputs)
			if err != nil {
				return nil, err
			}
			query := url.Values{"ids": {strings.Join(ids, ",")}}
			if region != "" {
				query.Set("market", market(region))
			}
			body, err := client.get(ctx, resource, query)
			if err != nil {
				return nil, err
			}
			var envelope map[string][]json.RawMessage
			if err := json.Unmarshal(body, &envelope); err != nil {
				return nil, err
			}
			entries := envelope[resource]
			outputs := make([]json.RawMessage, len(entries))
			for i, entry := range entries {
				if !isNull(entry) {
					outputs[i] = entry
				}
			}
			return outputs, nil
		},
		MaxBatchSize: maxBatch,
	}, nil
}

// Builds the artist-albums fetch function: all albums of one artist,
// aggregated across the endpoint's pagination.
func newArtistAlbums(params any) (fetch.Function, error) {
	p := params.(*ArtistAlbumsParams)
	client, err := newClient()
	if err != nil {
		return fetch.Function{}, err
	}

	var groups []string
	if p.ReleaseTypes.Albums {
		groups = append(groups, "album")
	}
	if p.ReleaseTypes.Singles {
		groups = append(groups, "single")
	}
	if p.ReleaseTypes.Compilations {
		groups = append(groups, "compilation")
	}
	if p.ReleaseTypes.AppearsOn {
		groups = append(groups, "appears_on")
	}

	return fetch.Function{
		Single: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			id, err := parseId(input)
			if err != nil {
				return nil, err
			}
			query := url.Values{
				"market": {market(p.Region)},
				"limit":  {strconv.Itoa(albumPageSize)},
			}
			if len(groups) > 0 {
				query.Set("include_groups", strings.Join(groups, ","))
			}

			var albums []json.RawMessage
			for offset := 0; ; offset += albumPageSize {
				query.Set("offset", strconv.Itoa(offset))
				body, err := client.get(ctx, fmt.Sprintf("artists/%s/albums", id), query)
				if err != nil {
					return nil, err
				}
				var page struct {
					Items []json.RawMessage `json:"items"`
					Next  *string           `json:"next"`
				}
				if err := json.Unmarshal(body, &page); err != nil {
					return nil, err
				}
				albums = append(albums, page.Items...)
				if page.Next == nil || len(page.Items) == 0 {
					break
				}
			}
			if albums == nil {
				albums = []json.RawMessage{}
			}
			return json.Marshal(map[string]any{"id": id, "albums": albums})
		},
	}, nil
}

// Builds the playlists fetch function: one playlist object per input id.
func newPlaylists(params any) (fetch.Function, error) {
	client, err := newClient()
	if err != nil {
		return fetch.Function{}, err
	}
	return fetch.Function{
		Single: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			id, err := parseId(input)
			if err != nil {
				return nil, err
			}
			return client.get(ctx, fmt.Sprintf("playlists/%s", id), nil)
		},
	}, nil
}

// Builds the isrc-track-search fetch function: the first track matching an
// ISRC, or no output if the search comes up empty.
func newIsrcTrackSearch(params any) (fetch.Function, error) {
	region := params.(*RegionParams).Region
	client, err := newClient()
	if err != nil {
		return fetch.Function{}, err
	}
	return fetch.Function{
		Single: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			isrc, err := parseId(input)
			if err != nil {
				return nil, err
			}
			query := url.Values{
				"q":      {fmt.Sprintf("isrc:%s", isrc)},
				"type":   {"track"},
				"market": {market(region)},
			}
			body, err := client.get(ctx, "search", query)
			if err != nil {
				return nil, err
			}
			var results struct {
				Tracks struct {
					Items []json.RawMessage `json:"items"`
				} `json:"tracks"`
			}
			if err := json.Unmarshal(body, &results); err != nil {
				return nil, err
			}
			if len(results.Tracks.Items) == 0 {
				return nil, nil // nothing matches this ISRC
			}
			return results.Tracks.Items[0], nil
		},
	}, nil
}

//-----------
// Internals
//-----------

// the API spells markets in upper case ("de" -> "DE")
func market(region string) string {
	return strings.ToUpper(region)
}

func parseId(input json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(input, &id); err != nil {
		return "", fmt.Errorf("Spotify inputs must be string ids: %s", input)
	}
	return id, nil
}

func parseIds(inputs []json.RawMessage) ([]string, error) {
	ids := make([]string, len(inputs))
	for i, input := range inputs {
		id, err := parseId(input)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func isNull(entry json.RawMessage) bool {
	return len(entry) == 0 || bytes.Equal(bytes.TrimSpace(entry), []byte("null"))
}
