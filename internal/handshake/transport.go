package handshake

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Transport carries one handshake exchange. Implementations must honor
// ctx cancellation; the engine wraps each attempt in its own timeout.
type Transport interface {
	Exchange(ctx context.Context, req *Request) (*Response, error)
}

// FuncTransport adapts a function to Transport; used heavily in tests.
type FuncTransport func(ctx context.Context, req *Request) (*Response, error)

func (f FuncTransport) Exchange(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// WebSocketTransport dials the peer's websocket endpoint and performs
// one JSON request/response exchange per call.
type WebSocketTransport struct {
	URL string
}

func (t *WebSocketTransport) Exchange(ctx context.Context, req *Request) (*Response, error) {
	conn, _, err := websocket.Dial(ctx, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	defer conn.Close(websocket.StatusInternalError, "handshake aborted")

	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("send handshake request: %w", err)
	}
	var resp Response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return &resp, nil
}
