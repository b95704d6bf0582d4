// Package pypi looks up published Apache Airflow releases. It is consulted
// only at project init time, to validate or default the requested version.
package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultVersion is the fallback when the release index is unreachable.
const DefaultVersion = "2.7.0"

const defaultBaseURL = "https://pypi.org"

// Client queries the PyPI JSON API for the apache-airflow package.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient returns a Client with a bounded request timeout.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 10 * time.Second}, baseURL: defaultBaseURL}
}

// NewClientWithBaseURL is used by tests to point at a local server.
func NewClientWithBaseURL(base string) *Client {
	return &Client{http: &http.Client{Timeout: 10 * time.Second}, baseURL: base}
}

type packageInfo struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string]json.RawMessage `json:"releases"`
}

func (c *Client) fetch(ctx context.Context) (*packageInfo, error) {
	url := c.baseURL + "/pypi/apache-airflow/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pypi: unexpected status %s", resp.Status)
	}
	var pi packageInfo
	if err := json.NewDecoder(resp.Body).Decode(&pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// Releases returns every published apache-airflow version.
func (c *Client) Releases(ctx context.Context) ([]string, error) {
	pi, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(pi.Releases))
	for v := range pi.Releases {
		versions = append(versions, v)
	}
	return versions, nil
}

// Latest returns the newest release, falling back to DefaultVersion when the
// index cannot be reached.
func (c *Client) Latest(ctx context.Context) string {
	pi, err := c.fetch(ctx)
	if err != nil || pi.Info.Version == "" {
		slog.Warn("could not determine latest Airflow version, using default",
			"default", DefaultVersion, "error", err)
		return DefaultVersion
	}
	return pi.Info.Version
}
