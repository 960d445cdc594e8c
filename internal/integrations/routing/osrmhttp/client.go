package osrmhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/FleetFoot/RacePulse/internal/geo"
	"github.com/FleetFoot/RacePulse/internal/integrations/routing"
	"github.com/pkg/errors"
)

// Client queries an OSRM-compatible routing API for foot routes.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type osrmResp struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"routes"`
}

func (c *Client) FetchRoute(ctx context.Context, origin, destination geo.Point) ([]geo.Point, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/route/v1/foot/%f,%f;%f,%f",
		origin.Lon, origin.Lat, destination.Lon, destination.Lat)

	q := u.Query()
	q.Set("geometries", "geojson")
	q.Set("overview", "full")
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrapf(routing.ErrRouteUnavailable, "do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, errors.Wrapf(routing.ErrRouteUnavailable, "routing provider http %d", resp.StatusCode)
	}

	var r osrmResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if r.Code != "Ok" || len(r.Routes) == 0 {
		return nil, errors.Wrapf(routing.ErrRouteUnavailable, "routing provider code=%s", r.Code)
	}

	coords := r.Routes[0].Geometry.Coordinates
	pts := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, geo.Point{Lat: c[1], Lon: c[0]})
	}
	if len(pts) == 0 {
		return nil, errors.Wrap(routing.ErrRouteUnavailable, "empty geometry")
	}
	return pts, nil
}
