package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/dolchat/internal/dol"
	"github.com/michaelbrown/dolchat/internal/tools"
	"github.com/michaelbrown/dolchat/internal/tools/doltools"
)

func newRegistry(t *testing.T, url string) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	require.NoError(t, doltools.Register(r, dol.New(dol.Config{BaseURL: url, MinInterval: -1})))
	return r
}

func call(t *testing.T, r *tools.Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := handler(r, name)(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	return res
}

func text(res *mcp.CallToolResult) string {
	return res.Content[0].(mcp.TextContent).Text
}

func TestInputSchema(t *testing.T) {
	r := newRegistry(t, "http://127.0.0.1:1")
	for _, def := range r.Definitions() {
		s := inputSchema(def.Parameters)
		assert.Equal(t, "object", s.Type, def.Name)
		if def.Name == "query_data" {
			assert.ElementsMatch(t, []string{"agency", "endpoint"}, s.Required)
			assert.Contains(t, s.Properties, "filter_object")
		}
	}
}

func TestHandlerSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get/OSHA/inspection/json", r.URL.Path)
		w.Write([]byte(`{"data":[{"activity_nr":1}]}`))
	}))
	defer ts.Close()

	res := call(t, newRegistry(t, ts.URL), "query_data", map[string]any{"agency": "OSHA", "endpoint": "inspection"})

	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"data":[{"activity_nr":1}]}`, text(res))
}

func TestHandlerCarriesErrorKind(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	res := call(t, newRegistry(t, ts.URL), "get_metadata", map[string]any{"agency": "WHD", "endpoint": "enforcement"})

	require.True(t, res.IsError)
	var re tools.RemoteError
	require.NoError(t, json.Unmarshal([]byte(text(res)), &re))
	assert.Equal(t, string(dol.KindRateLimited), re.Kind)
}

func TestHandlerInvalidInput(t *testing.T) {
	res := call(t, newRegistry(t, "http://127.0.0.1:1"), "query_data", map[string]any{"agency": "OSHA"})

	require.True(t, res.IsError)
	var re tools.RemoteError
	require.NoError(t, json.Unmarshal([]byte(text(res)), &re))
	assert.Empty(t, re.Kind)
	assert.Contains(t, re.Error, "endpoint")
}

func TestRemoteErrorTransient(t *testing.T) {
	msg := tools.EncodeRemoteError(&dol.Error{Kind: dol.KindUpstreamDown, Message: "DOL API is unavailable"})
	var re tools.RemoteError
	require.NoError(t, json.Unmarshal([]byte(msg), &re))
	assert.True(t, dol.Kind(re.Kind).Transient())
}
