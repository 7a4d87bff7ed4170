package graphql

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/templates"
)

func newTemplate(url string) *Template {
	return &Template{
		Base: templates.Base{Name: "gql", CallTemplateType: templates.TypeGraphQL},
		URL:  url,
	}
}

func TestRegisterManualIntrospection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "__schema")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"__schema":{
			"queryType":{"fields":[{"name":"user","description":"fetch a user"}]},
			"mutationType":{"fields":[{"name":"createUser","description":null}]},
			"subscriptionType":null
		}}}`)
	}))
	defer srv.Close()

	p := New()
	got, err := p.RegisterManual(context.Background(), newTemplate(srv.URL))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "user", got[0].Name)
	require.Equal(t, []string{"query"}, got[0].Tags)
	require.Equal(t, "createUser", got[1].Name)
	require.Equal(t, []string{"mutation"}, got[1].Tags)
}

func TestCallToolQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, codec.Unmarshal(body, &req))
		require.Contains(t, req.Query, "user(id: $id)")
		require.Contains(t, req.Query, "$id: Int")
		require.Equal(t, float64(7), req.Variables["id"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"user":{"name":"ada"}}}`)
	}))
	defer srv.Close()

	p := New()
	res, err := p.CallTool(context.Background(), "user", map[string]any{"id": 7}, newTemplate(srv.URL))
	require.NoError(t, err)
	require.Equal(t, "ada", res.(map[string]any)["name"])
}

func TestCallToolTypedArgument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "$filter: UserFilter")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"users":[]}}`)
	}))
	defer srv.Close()

	p := New()
	args := map[string]any{"filter": TypedArgument{Value: map[string]any{"active": true}, Type: "UserFilter"}}
	_, err := p.CallTool(context.Background(), "users", args, newTemplate(srv.URL))
	require.NoError(t, err)
}

func TestCallToolInvalidOperationType(t *testing.T) {
	tpl := newTemplate("https://gql.example")
	tpl.OperationType = "delete"
	p := New()
	_, err := p.CallTool(context.Background(), "user", nil, tpl)
	require.Error(t, err)
}

func TestBuildOperation(t *testing.T) {
	op := buildOperation("mutation", nil, "createUser", map[string]any{
		"name": "x",
		"age":  30,
	})
	require.True(t, strings.HasPrefix(op, "mutation "))
	require.Contains(t, op, "$age: Int")
	require.Contains(t, op, "$name: String")
	require.Contains(t, op, "createUser(age: $age, name: $name)")
}

func TestCheckURL(t *testing.T) {
	require.NoError(t, checkURL("https://api.example/graphql"))
	require.NoError(t, checkURL("ws://localhost:8080/graphql"))
	require.Error(t, checkURL("http://remote.example/graphql"))
}
