// Package crud is the tabular edit client for the station table.
package crud

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/core/observability"
	"github.com/mohammed-shakir/layersync/internal/spatialquery"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 200

	// SRID of every stored geometry.
	SRID = 4326

	resource = "edit/stations"
)

// Row is one table row as the backend returns it.
type Row map[string]any

type Page struct {
	Rows  []Row `json:"rows"`
	Total int   `json:"total"`
}

type ListQuery struct {
	Page     int
	PageSize int
	Q        string
	BBox     *model.BBox
}

// Normalize clamps page to >= 1 and pageSize to [1, MaxPageSize].
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize == 0:
		q.PageSize = DefaultPageSize
	case q.PageSize < 1:
		q.PageSize = 1
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	q.Q = strings.TrimSpace(q.Q)
	return q
}

type Client struct {
	logger *slog.Logger
	query  *spatialquery.Client
	http   *http.Client
}

func New(logger *slog.Logger, hc *http.Client, baseURL string) (*Client, error) {
	q, err := spatialquery.New(logger, hc, baseURL)
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{logger: logger, query: q, http: hc}, nil
}

func (c *Client) List(ctx context.Context, q ListQuery) (Page, error) {
	q = q.Normalize()
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("pageSize", strconv.Itoa(q.PageSize))
	if q.Q != "" {
		v.Set("q", q.Q)
	}
	if q.BBox != nil {
		if err := q.BBox.Validate(); err != nil {
			return Page{}, err
		}
		v.Set("bbox", q.BBox.String())
	}
	var p Page
	if err := c.do(ctx, http.MethodGet, v, nil, &p, resource); err != nil {
		return Page{}, err
	}
	if p.Rows == nil {
		p.Rows = []Row{}
	}
	return p, nil
}

func (c *Client) Get(ctx context.Context, id string) (Row, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var r Row
	if err := c.do(ctx, http.MethodGet, nil, nil, &r, resource, id); err != nil {
		return nil, err
	}
	return r, nil
}

// Create inserts a row. When at is set the location fields are filled from it.
func (c *Client) Create(ctx context.Context, attrs Row, at *orb.Point) (Row, error) {
	body, err := withLocation(attrs, at)
	if err != nil {
		return nil, err
	}
	var r Row
	if err := c.do(ctx, http.MethodPost, nil, body, &r, resource); err != nil {
		return nil, err
	}
	return r, nil
}

// Update writes attrs to row id. Geometry is replaced only when at is set.
func (c *Client) Update(ctx context.Context, id string, attrs Row, at *orb.Point) (Row, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	body, err := withLocation(attrs, at)
	if err != nil {
		return nil, err
	}
	var r Row
	if err := c.do(ctx, http.MethodPut, nil, body, &r, resource, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, nil, nil, nil, resource, id)
}

// LookupCode validates a station code against the master code table.
func (c *Client) LookupCode(ctx context.Context, code string) (Row, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: station code is required", model.ErrInput)
	}
	var r Row
	if err := c.do(ctx, http.MethodGet, nil, nil, &r, "station_codes", code); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) do(ctx context.Context, method string, q url.Values, in any, out any, elem ...string) error {
	u := c.query.Endpoint(elem...)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", method, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", model.ErrTransientFetch, method, u.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency(resource, time.Since(start).Seconds())

	if err := spatialquery.StatusError(resp, true); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, 8<<20))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", model.ErrTransientFetch, method, u.Path, err)
	}
	return nil
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: row id is required", model.ErrInput)
	}
	return nil
}

// withLocation copies attrs and, when at is set, adds the decimal and DMS
// coordinates plus the EWKB hex shape the table stores.
func withLocation(attrs Row, at *orb.Point) (Row, error) {
	out := make(Row, len(attrs)+5)
	for k, v := range attrs {
		out[k] = v
	}
	if at == nil {
		return out, nil
	}
	lon, lat := at.Lon(), at.Lat()
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("%w: location %v out of range", model.ErrInput, *at)
	}
	shape, err := ewkb.Marshal(*at, SRID)
	if err != nil {
		return nil, fmt.Errorf("encode shape: %w", err)
	}
	out["xcoord"] = lon
	out["ycoord"] = lat
	out["longitude"] = DMS(lon, "E", "W")
	out["latitude"] = DMS(lat, "N", "S")
	out["shape"] = hex.EncodeToString(shape)
	return out, nil
}

// DMS formats a decimal degree value as degrees, minutes and seconds,
// e.g. 77°12'34.56"E.
func DMS(v float64, pos, neg string) string {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	rem := (v - deg) * 60
	mins := math.Floor(rem)
	secs := (rem - mins) * 60
	if secs >= 59.995 {
		secs = 0
		mins++
	}
	if mins >= 60 {
		mins = 0
		deg++
	}
	return fmt.Sprintf("%d°%02d'%05.2f\"%s", int(deg), int(mins), secs, hemi)
}
