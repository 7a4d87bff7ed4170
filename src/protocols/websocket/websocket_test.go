package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
)

var upgrader = gws.Upgrader{}

// startServer upgrades each connection and hands it to handle.
func startServer(t *testing.T, handle func(conn *gws.Conn)) *Template {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)

	return &Template{
		Base: templates.Base{Name: "ws", CallTemplateType: templates.TypeWebSocket},
		URL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func readCall(t *testing.T, conn *gws.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRegisterManual(t *testing.T) {
	tpl := startServer(t, func(conn *gws.Conn) {
		msg := readCall(t, conn)
		require.Equal(t, "discover", msg["type"])
		conn.WriteJSON(map[string]any{
			"format_version": "1.0",
			"tools":          []map[string]any{{"name": "echo"}},
		})
	})

	p := New(nil, nil)
	got, err := p.RegisterManual(context.Background(), tpl)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "echo", got[0].Name)
}

func TestCallTool(t *testing.T) {
	tpl := startServer(t, func(conn *gws.Conn) {
		msg := readCall(t, conn)
		require.Equal(t, "call", msg["type"])
		require.Equal(t, "ws.echo", msg["tool"])
		conn.WriteJSON(map[string]any{"echoed": msg["args"]})
	})

	p := New(nil, nil)
	res, err := p.CallTool(context.Background(), "ws.echo", map[string]any{"v": "hi"}, tpl)
	require.NoError(t, err)
	echoed := res.(map[string]any)["echoed"].(map[string]any)
	require.Equal(t, "hi", echoed["v"])
}

func TestCallToolStream(t *testing.T) {
	tpl := startServer(t, func(conn *gws.Conn) {
		readCall(t, conn)
		conn.WriteJSON(map[string]any{"n": 1})
		conn.WriteJSON(map[string]any{"n": 2})
		conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
	})

	p := New(nil, nil)
	res, err := p.CallToolStream(context.Background(), "ws.count", nil, tpl)
	require.NoError(t, err)

	items, err := stream.Drain(res)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, float64(1), items[0].(map[string]any)["n"])
	require.Equal(t, float64(2), items[1].(map[string]any)["n"])
}

func TestDialFailure(t *testing.T) {
	tpl := &Template{
		Base:    templates.Base{Name: "ws", CallTemplateType: templates.TypeWebSocket},
		URL:     "ws://127.0.0.1:1/none",
		Timeout: 1,
	}
	p := New(nil, nil)
	_, err := p.CallTool(context.Background(), "ws.t", nil, tpl)
	require.Error(t, err)
}
