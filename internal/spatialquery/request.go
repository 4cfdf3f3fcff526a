// Package spatialquery fetches layer features from the spatial backend.
package spatialquery

import (
	"context"
	"net/url"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/fetchgate"
)

// Feature caps applied to a single response.
const (
	DenseLimit   = 20000
	PolygonLimit = 5000
)

// Request is one layer query. Key is the FetchKey of the parameters and is
// used for caching; Fresh skips cached reads.
type Request struct {
	Endpoint string
	BBox     *model.BBox
	Zoom     *int
	Filters  map[string]string
	Limit    int
	Key      string
	Fresh    bool
}

// Querier runs a layer query. Implementations are safe for concurrent use.
type Querier interface {
	Query(ctx context.Context, r Request) (*geojson.FeatureCollection, error)
}

// NewRequest builds a request from gate params. The key is derived from p.
func NewRequest(endpoint string, p fetchgate.Params, limit int) Request {
	return Request{
		Endpoint: endpoint,
		BBox:     p.BBox,
		Zoom:     p.Zoom,
		Filters:  p.Filters,
		Limit:    limit,
		Key:      fetchgate.Key(p),
	}
}

// BuildParams renders the backend query string. Blank filters are omitted.
func BuildParams(r Request) url.Values {
	params := url.Values{}
	if r.BBox != nil {
		params.Set("bbox", r.BBox.String())
	}
	if r.Zoom != nil {
		params.Set("z", strconv.Itoa(*r.Zoom))
	}
	for k, v := range r.Filters {
		if k == "" || v == "" {
			continue
		}
		params.Set(k, v)
	}
	return params
}
