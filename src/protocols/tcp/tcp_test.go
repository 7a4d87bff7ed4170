package tcp

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/templates"
)

// startServer runs a line-oriented JSON server whose handler maps one
// request to reply lines.
func startServer(t *testing.T, handle func(req map[string]any) []string) *Template {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var req map[string]any
					if codec.Unmarshal(scanner.Bytes(), &req) != nil {
						continue
					}
					for _, line := range handle(req) {
						conn.Write([]byte(line + "\n"))
					}
					return
				}
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	return &Template{
		Base: templates.Base{Name: "sock", CallTemplateType: templates.TypeTCP},
		Host: host,
		Port: port,
	}
}

func TestRegisterManual(t *testing.T) {
	tpl := startServer(t, func(req map[string]any) []string {
		if req["type"] != "discover" {
			return []string{`{"error":"bad request"}`}
		}
		return []string{`{"format_version":"1.0","tools":[{"name":"ping"}]}`}
	})

	p := New(nil)
	got, err := p.RegisterManual(context.Background(), tpl)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ping", got[0].Name)
}

func TestCallToolMatchesCorrelationID(t *testing.T) {
	tpl := startServer(t, func(req map[string]any) []string {
		id := req["id"].(string)
		return []string{
			`{"id":"other-request","result":{"wrong":true}}`,
			`not json at all`,
			`{"id":"` + id + `","result":{"pong":true}}`,
		}
	})

	p := New(nil)
	res, err := p.CallTool(context.Background(), "sock.ping", map[string]any{"x": 1}, tpl)
	require.NoError(t, err)
	require.Equal(t, true, res.(map[string]any)["pong"])
}

func TestCallToolRemoteError(t *testing.T) {
	tpl := startServer(t, func(req map[string]any) []string {
		return []string{`{"id":"` + req["id"].(string) + `","error":"tool exploded"}`}
	})

	p := New(nil)
	_, err := p.CallTool(context.Background(), "sock.ping", nil, tpl)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tool exploded")
}

func TestCallToolConnectionRefused(t *testing.T) {
	tpl := &Template{
		Base:    templates.Base{Name: "sock", CallTemplateType: templates.TypeTCP},
		Host:    "127.0.0.1",
		Port:    1, // nothing listens here
		Timeout: 1,
	}
	p := New(nil)
	_, err := p.CallTool(context.Background(), "sock.ping", nil, tpl)
	require.Error(t, err)
}
