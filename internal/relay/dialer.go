package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 一条双向文本消息连接；*websocket.Conn 直接满足读和关闭，写由 wsConn 串行化
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer 建立到 relay 的连接；ctx 被取消时必须尽快返回
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer 基于 gorilla/websocket 的 Dialer
type WSDialer struct {
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	ProxyURL         string
	UserAgent        string
}

// NewWSDialer 默认参数的 WSDialer
func NewWSDialer() *WSDialer {
	return &WSDialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		UserAgent:        "granola/1.0",
	}
}

// Dial 建立 websocket 连接
func (d *WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:   d.ReadBufferSize,
		WriteBufferSize:  d.WriteBufferSize,
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if d.ProxyURL != "" {
		proxyURL, err := url.Parse(d.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(http.Header)
	if d.UserAgent != "" {
		headers.Set("User-Agent", d.UserAgent)
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn gorilla 的连接只允许一个并发写者（握手消息与 Broadcast 可能同时写）
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
