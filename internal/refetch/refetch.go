// Package refetch provides the injection point a deferral consumer uses
// to look up an item's current state by key before re-running deferred
// handlers. The engine does not hold a table client itself (§9); it only
// defines the shape a caller's re-fetch implementation must satisfy.
package refetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/go-querystring/query"
)

// Fetcher re-fetches an item's current attribute image by primary key.
// Implementations are supplied by the host application; the engine never
// guarantees the returned image is fresh relative to the original event
// (§4.6).
type Fetcher interface {
	Fetch(ctx context.Context, keys map[string]string) (map[string]interface{}, error)
}

// lookupParams is the query string shape sent to an HTTP-backed item
// store: one key=value pair per primary-key attribute, plus the
// consistency knob.
type lookupParams struct {
	Keys       []string `url:"keys,omitempty"`
	Consistent bool     `url:"consistent"`
}

// HTTPFetcher re-fetches an item over HTTP(S) from a keyed item-store
// endpoint, encoding the lookup as a query string via go-querystring.
type HTTPFetcher struct {
	Endpoint   string
	HTTP       *http.Client
	Consistent bool
}

// BuildURL renders the lookup URL for keys, without performing the
// request; exposed so tests and callers can assert on the encoded query
// string independently of a live HTTP round trip.
func (f *HTTPFetcher) BuildURL(keys map[string]string) (string, error) {
	pairs := make([]string, 0, len(keys))
	for k, v := range keys {
		pairs = append(pairs, k+"="+v)
	}
	params := lookupParams{Keys: pairs, Consistent: f.Consistent}
	values, err := query.Values(params)
	if err != nil {
		return "", fmt.Errorf("refetch: encode query: %w", err)
	}
	return f.Endpoint + "?" + values.Encode(), nil
}

// Fetch implements Fetcher by issuing a GET against BuildURL's result.
// The response body is expected to be a wire attribute map identical in
// shape to a stream record's image, decodable by attr.DecodeMap.
func (f *HTTPFetcher) Fetch(ctx context.Context, keys map[string]string) (map[string]interface{}, error) {
	u, err := f.BuildURL(keys)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("refetch: build request: %w", err)
	}

	httpClient := f.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refetch: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refetch: unexpected status %d", resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("refetch: decode response: %w", err)
	}
	return out, nil
}
