package connmgr

import (
	"context"
	"fmt"
	"net/url"

	"nhooyr.io/websocket"
)

// WebsocketDialer connects to the broker's channel endpoint. The bearer token
// travels as a query parameter because not every transport can set headers.
type WebsocketDialer struct {
	// BaseURL is the channel endpoint root, e.g. wss://host/core/trips
	BaseURL string
}

type websocketConn struct {
	conn *websocket.Conn
}

func (d *WebsocketDialer) Dial(ctx context.Context, tripID string, token string) (Conn, error) {
	endpoint := fmt.Sprintf("%s/%s/channel?token=%s", d.BaseURL, url.PathEscape(tripID), url.QueryEscape(token))

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	return &websocketConn{conn: conn}, nil
}

func (c *websocketConn) Read(ctx context.Context) ([]byte, error) {
	_, payload, err := c.conn.Read(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	return payload, nil
}

func (c *websocketConn) Write(ctx context.Context, payload []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return &ConnectionError{Err: err}
	}

	return nil
}

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
