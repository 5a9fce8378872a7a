// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package positions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 64 << 10

// Response is the wire shape of a /device_position answer.
type Response struct {
	PositionX *float64 `json:"positionx"`
	PositionY *float64 `json:"positiony"`
	Error     string   `json:"error,omitempty"`
}

// HTTPFetcher queries the position server over HTTP.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher returns a fetcher for the server at baseURL.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

// FetchPosition performs GET {BaseURL}/device_position?mac=<mac>. Any
// non-2xx status, transport error or unparsable body is returned as an
// error; the deadline comes from ctx.
func (f *HTTPFetcher) FetchPosition(ctx context.Context, mac string) (Position, error) {
	u := fmt.Sprintf("%s/device_position?mac=%s", f.BaseURL, url.QueryEscape(mac))
	log.Printf("positions: requesting %s", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Position{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return Position{}, fmt.Errorf("request %s: %w", mac, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Position{}, fmt.Errorf("read body for %s: %w", mac, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var r Response
		if json.Unmarshal(body, &r) == nil && r.Error != "" {
			return Position{}, fmt.Errorf("server returned %s for %s: %s", resp.Status, mac, r.Error)
		}
		return Position{}, fmt.Errorf("server returned %s for %s", resp.Status, mac)
	}

	return DecodeResponse(body)
}

// DecodeResponse parses a success body. Both coordinates must be present
// and numeric.
func DecodeResponse(body []byte) (Position, error) {
	var r Response
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&r); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if r.PositionX == nil || r.PositionY == nil {
		return Position{}, fmt.Errorf("%w: missing positionx or positiony in %q", ErrMalformedResponse, truncate(body, 80))
	}
	return Position{X: *r.PositionX, Y: *r.PositionY}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
