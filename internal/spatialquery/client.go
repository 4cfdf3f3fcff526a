package spatialquery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/core/observability"
)

const maxBodyBytes = 64 << 20

// Client queries GET {base}/api/{endpoint}.
type Client struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	startNow func() time.Time // for tests
}

var _ Querier = (*Client)(nil)

func New(logger *slog.Logger, client *http.Client, baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:   logger,
		client:   client,
		base:     u,
		startNow: time.Now,
	}, nil
}

// Endpoint returns the absolute URL for an api path.
func (c *Client) Endpoint(elem ...string) *url.URL {
	return c.base.JoinPath(append([]string{"api"}, elem...)...)
}

func (c *Client) Query(ctx context.Context, r Request) (*geojson.FeatureCollection, error) {
	if strings.TrimSpace(r.Endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint is required", model.ErrInput)
	}
	if r.BBox != nil {
		if err := r.BBox.Validate(); err != nil {
			return nil, err
		}
	}

	u := c.Endpoint(r.Endpoint)
	u.RawQuery = BuildParams(r).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrTransientFetch, r.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency(r.Endpoint, time.Since(start).Seconds())

	if err := StatusError(resp, false); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", model.ErrTransientFetch, err)
	}
	fc, err := model.DecodeFeatures(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", model.ErrTransientFetch, r.Endpoint, err)
	}
	if r.Limit > 0 && len(fc.Features) > r.Limit {
		c.logger.Debug("feature cap applied", "endpoint", r.Endpoint,
			"returned", len(fc.Features), "limit", r.Limit)
		fc.Features = fc.Features[:r.Limit]
	}
	return fc, nil
}

// StatusError maps a 400 to ErrInput carrying the backend's message and any
// other non-2xx to ErrTransientFetch. With notFound set a 404 maps to
// ErrNotFound instead. It returns nil for 2xx.
func StatusError(resp *http.Response, notFound bool) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(b))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", model.ErrInput, msg)
	case notFound && resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", model.ErrNotFound, msg)
	default:
		return fmt.Errorf("%w: upstream status %d: %s", model.ErrTransientFetch, resp.StatusCode, msg)
	}
}
