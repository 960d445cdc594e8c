package osrmhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FleetFoot/RacePulse/internal/geo"
	"github.com/FleetFoot/RacePulse/internal/integrations/routing"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/route/v1/foot/")
		_, _ = w.Write([]byte(`{
			"code": "Ok",
			"routes": [{"geometry": {"coordinates": [[37.61, 55.75], [37.62, 55.76]]}}]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	pts, err := c.FetchRoute(context.Background(),
		geo.Point{Lat: 55.75, Lon: 37.61}, geo.Point{Lat: 55.76, Lon: 37.62})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	require.InDelta(t, 55.75, pts[0].Lat, 1e-9)
	require.InDelta(t, 37.61, pts[0].Lon, 1e-9)
}

func TestClient_FetchRoute_ProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.FetchRoute(context.Background(), geo.Point{}, geo.Point{})
	require.ErrorIs(t, err, routing.ErrRouteUnavailable)
}

func TestClient_FetchRoute_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code": "NoRoute", "routes": []}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.FetchRoute(context.Background(), geo.Point{}, geo.Point{})
	require.ErrorIs(t, err, routing.ErrRouteUnavailable)
}
