package streamable

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
)

func newTemplate(url string) *Template {
	return &Template{
		Base: templates.Base{Name: "chunks", CallTemplateType: templates.TypeHTTPStream},
		URL:  url,
	}
}

func TestRegisterManual(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"format_version":"1.0","tools":[{"name":"feed"}]}`)
	}))
	defer srv.Close()

	p := New(srv.Client(), nil)
	got, err := p.RegisterManual(context.Background(), newTemplate(srv.URL))
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCallToolStreamNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, "{\"n\":1}\n{\"n\":2}\n{\"n\":3}\n")
	}))
	defer srv.Close()

	p := New(srv.Client(), nil)
	res, err := p.CallToolStream(context.Background(), "chunks.feed", map[string]any{"q": "x"}, newTemplate(srv.URL))
	require.NoError(t, err)

	items, err := stream.Drain(res)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, float64(2), items[1].(map[string]any)["n"])
}

func TestCallToolStreamRawChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("binary payload"))
	}))
	defer srv.Close()

	p := New(srv.Client(), nil)
	res, err := p.CallToolStream(context.Background(), "chunks.feed", nil, newTemplate(srv.URL))
	require.NoError(t, err)

	items, err := stream.Drain(res)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	total := ""
	for _, item := range items {
		total += string(item.([]byte))
	}
	require.Equal(t, "binary payload", total)
}

func TestCallToolUnwrapsSingleItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, "{\"only\":1}\n")
	}))
	defer srv.Close()

	p := New(srv.Client(), nil)
	res, err := p.CallTool(context.Background(), "chunks.feed", nil, newTemplate(srv.URL))
	require.NoError(t, err)
	require.Equal(t, float64(1), res.(map[string]any)["only"])
}

func TestCallToolStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(srv.Client(), nil)
	_, err := p.CallToolStream(context.Background(), "chunks.feed", nil, newTemplate(srv.URL))
	require.Error(t, err)
}
