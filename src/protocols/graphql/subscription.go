package graphql

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
)

// CallToolStream implements registry.StreamingProtocol for subscription
// fields using the graphql-ws wire protocol. Non-subscription templates run
// the operation once and replay the single result.
func (p *Protocol) CallToolStream(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (stream.Result, error) {
	gt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("graphql protocol requires a graphql call template, got %T", tpl)
	}
	if gt.operationType() != "subscription" {
		result, err := p.CallTool(ctx, toolName, args, tpl)
		if err != nil {
			return nil, err
		}
		return stream.NewSliceResult([]any{result}, nil), nil
	}
	if !strings.HasPrefix(gt.URL, "ws://") && !strings.HasPrefix(gt.URL, "wss://") {
		return nil, fmt.Errorf("subscription endpoint must use ws or wss, got %q", gt.URL)
	}
	if err := checkURL(gt.URL); err != nil {
		return nil, err
	}

	headers, err := p.headers(ctx, gt)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	dialer := websocket.Dialer{Subprotocols: []string{"graphql-ws"}}
	conn, resp, err := dialer.DialContext(ctx, gt.URL, hdr)
	if err != nil {
		return nil, fmt.Errorf("subscription dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err := conn.WriteJSON(map[string]any{"type": "connection_init"}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection_init failed: %w", err)
	}
	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("no connection_ack: %w", err)
	}
	if ack["type"] != "connection_ack" {
		conn.Close()
		return nil, fmt.Errorf("expected connection_ack, got %v", ack["type"])
	}

	variables := make(map[string]any, len(args))
	for k, v := range args {
		if ta, ok := v.(TypedArgument); ok {
			variables[k] = ta.Value
		} else {
			variables[k] = v
		}
	}
	subID := uuid.NewString()
	start := map[string]any{
		"id":   subID,
		"type": "start",
		"payload": map[string]any{
			"query":     buildOperation("subscription", gt.OperationName, toolName, args),
			"variables": variables,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscription start failed: %w", err)
	}

	return &subscriptionResult{conn: conn, id: subID, field: toolName}, nil
}

// subscriptionResult yields data frames of one graphql-ws subscription.
type subscriptionResult struct {
	conn  *websocket.Conn
	id    string
	field string
}

func (sr *subscriptionResult) Next() (any, error) {
	for {
		var msg map[string]any
		if err := sr.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("subscription connection failed: %w", err)
			}
			return nil, io.EOF
		}
		switch msg["type"] {
		case "data":
			payload, _ := msg["payload"].(map[string]any)
			data, _ := payload["data"].(map[string]any)
			if fieldData, ok := data[sr.field]; ok {
				return fieldData, nil
			}
			if data != nil {
				return data, nil
			}
		case "error":
			return nil, fmt.Errorf("subscription error: %v", msg["payload"])
		case "complete":
			return nil, io.EOF
		}
	}
}

func (sr *subscriptionResult) Close() error {
	_ = sr.conn.WriteJSON(map[string]any{"id": sr.id, "type": "stop"})
	return sr.conn.Close()
}
