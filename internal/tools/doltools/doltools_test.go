package doltools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/dolchat/internal/dol"
	"github.com/michaelbrown/dolchat/internal/tools"
)

func newRegistry(t *testing.T, h http.HandlerFunc) *tools.Registry {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	r := tools.NewRegistry()
	require.NoError(t, Register(r, dol.New(dol.Config{BaseURL: srv.URL, MinInterval: -1})))
	return r
}

func TestToolSchemas(t *testing.T) {
	ts, err := Tools(dol.New(dol.Config{}))
	require.NoError(t, err)
	require.Len(t, ts, 3)

	byName := map[string]tools.Tool{}
	for _, tl := range ts {
		byName[tl.Name] = tl
	}

	q := byName[QueryData].Parameters
	assert.Equal(t, "object", q["type"])
	assert.ElementsMatch(t, []any{"agency", "endpoint"}, q["required"])
	props := q["properties"].(map[string]any)
	assert.Contains(t, props, "filter_object")
	assert.Equal(t, []any{"json", "csv"}, props["format"].(map[string]any)["enum"])
	assert.Equal(t, "Field name to sort by", props["sort_by"].(map[string]any)["description"])

	m := byName[GetMetadata].Parameters
	assert.ElementsMatch(t, []any{"agency", "endpoint"}, m["required"])

	l := byName[ListDatasets].Parameters
	assert.Nil(t, l["required"])
}

func TestQueryDataForwardsParams(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/get/OSHA/inspection/json", req.URL.Path)
		q := req.URL.Query()
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "open_date", q.Get("sort_by"))
		assert.Equal(t, `{"field":"state","operator":"eq","value":"TX"}`, q.Get("filter_object"))
		w.Write([]byte(`{"data":[{"activity_nr":1}]}`))
	})

	res := r.Call(context.Background(), QueryData, map[string]any{
		"agency":        "OSHA",
		"endpoint":      "inspection",
		"limit":         float64(5),
		"sort_by":       "open_date",
		"filter_object": `{"field":"state","operator":"eq","value":"TX"}`,
	})
	require.False(t, res.Failed(), "%v", res.Err)
	assert.JSONEq(t, `{"data":[{"activity_nr":1}]}`, res.JSON())
}

func TestQueryDataRejectsBadFilterWithoutRequest(t *testing.T) {
	called := false
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		called = true
	})

	res := r.Call(context.Background(), QueryData, map[string]any{
		"agency":        "OSHA",
		"endpoint":      "inspection",
		"filter_object": `{"field":"state","operator":"contains","value":"TX"}`,
	})
	require.True(t, res.Failed())
	assert.False(t, res.Transient())
	assert.Contains(t, res.Err.Error(), "unsupported operator")
	assert.False(t, called)
}

func TestQueryDataLimitOutOfRange(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("no request expected")
	})

	res := r.Call(context.Background(), QueryData, map[string]any{
		"agency":   "OSHA",
		"endpoint": "inspection",
		"limit":    float64(20000),
	})
	require.True(t, res.Failed())
	assert.Contains(t, res.Err.Error(), "limit")
}

func TestGetMetadataSoftNotFound(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/get/OSHA/nope/json/metadata", req.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	res := r.Call(context.Background(), GetMetadata, map[string]any{"agency": "OSHA", "endpoint": "nope"})
	require.True(t, res.Failed())
	assert.False(t, res.Transient())
	assert.Contains(t, res.JSON(), `"error"`)
}

func TestGetMetadataRateLimitedIsTransient(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := r.Call(context.Background(), GetMetadata, map[string]any{"agency": "OSHA", "endpoint": "inspection"})
	require.True(t, res.Failed())
	assert.True(t, res.Transient())
}

func TestListDatasetsDefaultPage(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/datasets", req.URL.Path)
		assert.Equal(t, "1", req.URL.Query().Get("page"))
		w.Write([]byte(`{"datasets":[{"name":"Inspections","api_url":"inspection","agency":{"abbr":"OSHA"}}],"meta":{"current_page":1,"total_pages":1,"total_count":1}}`))
	})

	res := r.Call(context.Background(), ListDatasets, nil)
	require.False(t, res.Failed(), "%v", res.Err)
	page := res.Payload.(*dol.DatasetPage)
	require.Len(t, page.Datasets, 1)
	assert.Equal(t, "OSHA", page.Datasets[0].Agency)
	assert.Equal(t, "inspection", page.Datasets[0].Endpoint)
}
