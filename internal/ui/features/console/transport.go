package console

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/leapstack-labs/querydeck/internal/protocol"
)

// Transport is one bidirectional, message-framed client connection.
type Transport interface {
	// Receive blocks for the next text message. io.EOF means the client
	// closed the connection.
	Receive() (string, error)
	// Send writes one frame as a text message.
	Send(protocol.Frame) error
	Close() error
}

// wsTransport is a Transport over an x/net/websocket connection.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps conn.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Receive() (string, error) {
	var msg string
	if err := websocket.Message.Receive(t.conn, &msg); err != nil {
		return "", err
	}
	return msg, nil
}

func (t *wsTransport) Send(f protocol.Frame) error {
	return websocket.JSON.Send(t.conn, f)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// errCrossOrigin rejects a handshake from a foreign page.
var errCrossOrigin = errors.New("cross-origin websocket request")

// sameOrigin returns a handshake check that accepts requests without an
// Origin header (non-browser clients), requests whose origin host matches the
// request host, and the extra origins in allowed.
func sameOrigin(allowed []string) func(*websocket.Config, *http.Request) error {
	extra := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		extra[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}

	return func(cfg *websocket.Config, req *http.Request) error {
		origin, err := websocket.Origin(cfg, req)
		if err != nil {
			return fmt.Errorf("failed to parse origin: %w", err)
		}
		cfg.Origin = origin
		if origin == nil {
			return nil
		}
		if strings.EqualFold(origin.Host, req.Host) {
			return nil
		}
		if _, ok := extra[originKey(origin)]; ok {
			return nil
		}
		return fmt.Errorf("%w: %s", errCrossOrigin, origin)
	}
}

func originKey(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
