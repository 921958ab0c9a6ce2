// Package catalog is the HTTP client for the course discovery service.
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
)

var (
	// ErrStatus is returned for any non-200 discovery response.
	ErrStatus = errors.New("catalog returned unexpected status")
	// ErrMalformed is returned when a response body cannot be decoded.
	ErrMalformed = errors.New("catalog returned malformed body")
)

// Config configures the discovery client.
type Config struct {
	// BaseURL is the discovery root, e.g. http://discovery.local/api/v1.
	BaseURL string
	// Timeout bounds a single request. The range resolver adds its own
	// retry on top.
	Timeout time.Duration
}

// Client talks to the discovery search and saved-catalog endpoints. It
// implements vrange.Catalog.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a discovery client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type searchResponse struct {
	Count   int             `json:"count"`
	Results []vrange.Course `json:"results"`
}

// Search runs a catalog search expression, returning one result page.
func (c *Client) Search(ctx context.Context, query, partner string, limit, offset int) (*vrange.Page, error) {
	u := c.base.JoinPath("search", "course_runs")
	q := u.Query()
	q.Set("q", query)
	q.Set("partner", partner)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	var resp searchResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return &vrange.Page{Courses: resp.Results, Total: resp.Count}, nil
}

type catalogResponse struct {
	ID    string `json:"id"`
	Query string `json:"query"`
}

// CatalogQuery fetches the stored search expression of a saved catalog.
func (c *Client) CatalogQuery(ctx context.Context, id string) (string, error) {
	var resp catalogResponse
	if err := c.getJSON(ctx, c.base.JoinPath("catalogs", id), &resp); err != nil {
		return "", err
	}
	if resp.Query == "" {
		return "", errors.Wrapf(ErrMalformed, "catalog %s has no query", id)
	}
	return resp.Query, nil
}

func (c *Client) getJSON(ctx context.Context, u *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrStatus, "%s: %s", u.Path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(ErrMalformed, "%s: %s", u.Path, err)
	}
	return nil
}
