package tmap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalResponse = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [127.0, 37.5]},
			"properties": {"pointType": "S", "index": "0"}
		},
		{
			"type": "Feature",
			"geometry": {"type": "LineString", "coordinates": [[127.0, 37.5], [127.1, 37.5]]},
			"properties": {"time": "120", "distance": 1500}
		},
		{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [127.1, 37.5]},
			"properties": {"pointType": "E", "totalTime": "120", "totalDistance": "1500"}
		}
	]
}`

func testRequest() *RouteRequest {
	return &RouteRequest{
		Start:        Point{ID: "depot", Name: "Depot & Yard", Lon: 127.0, Lat: 37.5},
		End:          Point{ID: "depot", Name: "Depot & Yard", Lon: 127.0, Lat: 37.5},
		Vias:         []Point{{ID: "a", Name: "Stop A", Lon: 127.1, Lat: 37.5}},
		SearchOption: 0,
		CarType:      3,
		DepartAt:     time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		ViaDwellSecs: 60,
	}
}

func TestRouteWireFormat(t *testing.T) {
	var captured map[string]interface{}
	var gotAppKey, gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tmap/routes/routeSequential100", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("version"))
		gotAppKey = r.Header.Get("appKey")
		gotContentType = r.Header.Get("content-type")

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Write([]byte(minimalResponse))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", 2)
	resp, err := client.Route(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, resp.Features, 3)

	assert.Equal(t, "test-key", gotAppKey)
	assert.Equal(t, "application/json", gotContentType)

	// Every numeric field rides the wire as a string
	assert.Equal(t, "WGS84GEO", captured["reqCoordType"])
	assert.Equal(t, "127", captured["startX"])
	assert.Equal(t, "37.5", captured["startY"])
	assert.Equal(t, "202608240900", captured["startTime"])
	assert.Equal(t, "0", captured["searchOption"])
	assert.Equal(t, "3", captured["carType"])
	assert.Equal(t, "60", captured["totalValue"])
	assert.Equal(t, "Depot+%26+Yard", captured["startName"])

	vias, ok := captured["viaPoints"].([]interface{})
	require.True(t, ok)
	require.Len(t, vias, 1)
	via := vias[0].(map[string]interface{})
	assert.Equal(t, "a", via["viaPointId"])
	assert.Equal(t, "Stop+A", via["viaPointName"])
	assert.Equal(t, "127.1", via["viaX"])
	assert.Equal(t, "37.5", via["viaY"])
	_, hasViaTime := via["viaTime"]
	assert.False(t, hasViaTime)
}

func TestRoutePerViaDwell(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Write([]byte(minimalResponse))
	}))
	defer srv.Close()

	req := testRequest()
	req.Vias[0].DwellSecs = 300

	client := NewClient(srv.URL, "test-key", 2)
	_, err := client.Route(context.Background(), req)
	require.NoError(t, err)

	via := captured["viaPoints"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "300", via["viaTime"])
}

func TestRouteRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch n {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(minimalResponse))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", 2)
	resp, err := client.Route(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Len(t, resp.Features, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRouteExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", 2)
	_, err := client.Route(context.Background(), testRequest())

	var unavailable *ErrProviderUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, http.StatusBadGateway, unavailable.Status)
	assert.Equal(t, maxAttempts, unavailable.Attempts)
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
}

func TestRouteDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad coordinates"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", 2)
	_, err := client.Route(context.Background(), testRequest())

	var invalid *ErrInvalidRequest
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRouteValidation(t *testing.T) {
	client := NewClient("http://unused", "test-key", 2)

	tooMany := testRequest()
	tooMany.Vias = make([]Point, MaxViaPoints+1)
	for i := range tooMany.Vias {
		tooMany.Vias[i] = Point{ID: "x", Name: "X"}
	}
	_, err := client.Route(context.Background(), tooMany)
	var invalid *ErrInvalidRequest
	assert.ErrorAs(t, err, &invalid)

	noDepart := testRequest()
	noDepart.DepartAt = time.Time{}
	_, err = client.Route(context.Background(), noDepart)
	assert.ErrorAs(t, err, &invalid)

	noKey := NewClient("http://unused", "", 2)
	_, err = noKey.Route(context.Background(), testRequest())
	assert.ErrorAs(t, err, &invalid)
}

func TestFlexFloatDecoding(t *testing.T) {
	tests := []struct {
		name string
		json string
		want float64
	}{
		{"number", `12.5`, 12.5},
		{"string", `"12.5"`, 12.5},
		{"integer string", `"1500"`, 1500},
		{"null", `null`, 0},
		{"empty string", `""`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexFloat
			require.NoError(t, json.Unmarshal([]byte(tt.json), &f))
			assert.Equal(t, tt.want, float64(f))
		})
	}

	var f FlexFloat
	assert.Error(t, json.Unmarshal([]byte(`"not a number"`), &f))
}

func TestCodeMappings(t *testing.T) {
	code, err := SearchOptionCode("recommended")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = SearchOptionCode("truck")
	require.NoError(t, err)
	assert.Equal(t, 17, code)

	_, err = SearchOptionCode("scenic")
	assert.Error(t, err)

	code, err = CarTypeCode("large-van")
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	code, err = CarTypeCode("special-truck")
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	_, err = CarTypeCode("bicycle")
	assert.Error(t, err)
}

func TestFeatureGeometryDecoding(t *testing.T) {
	var resp RouteResponse
	require.NoError(t, json.Unmarshal([]byte(minimalResponse), &resp))

	require.True(t, resp.Features[0].IsPoint())
	pt, err := resp.Features[0].Geometry.Point()
	require.NoError(t, err)
	assert.Equal(t, []float64{127.0, 37.5}, pt)

	require.True(t, resp.Features[1].IsLineString())
	line, err := resp.Features[1].Geometry.LineString()
	require.NoError(t, err)
	require.Len(t, line, 2)
	assert.Equal(t, 120.0, float64(resp.Features[1].Properties.Time))
	assert.Equal(t, 1500.0, float64(resp.Features[1].Properties.Distance))

	end := resp.Features[2]
	assert.Equal(t, "E", end.Properties.PointType)
	assert.Equal(t, 120.0, float64(end.Properties.TotalTime))
}
