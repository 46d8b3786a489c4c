// Package relay 维护到一组消息中继（relay）的 websocket 连接。
//
// 每个 URL 一个独立的状态机：
//
//	idle -> connecting -> connected -> disconnected -(固定延迟)-> connecting ...
//	任意状态 -> closed（移除，终态）
//
// 所有回调（拨号结果、读错误、重连定时器）都重新获取 Manager.mu，并校验
// entry 身份 + 代数（gen）+ closed 标记后才修改状态；RemoveEndpoint 持同一把锁，
// 因此它返回之后该 URL 不会再有任何状态迁移。
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/granola/granola/internal/metrics"
	"github.com/granola/granola/pkg/sigchan"
)

var log = logrus.WithField("component", "relay")

var (
	// ErrTransport 连接失败或意外断开，只体现为状态变化
	ErrTransport = errors.New("relay transport error")
	// ErrMessageParse 入站帧不是合法 JSON，记录后丢弃，连接保持
	ErrMessageParse = errors.New("relay message parse error")
	// ErrInvalidURL 不是 ws:// 或 wss:// 地址
	ErrInvalidURL = errors.New("invalid relay url")
	// ErrManagerClosed Manager 已关闭
	ErrManagerClosed = errors.New("relay manager closed")
)

// Status 连接状态
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

// Config Manager 配置
type Config struct {
	// ReconnectDelay 断开后到下一次重连的固定延迟（不做指数退避）
	ReconnectDelay time.Duration
	// DialTimeout 单次拨号超时
	DialTimeout time.Duration
	// Handshake 每次连接建立后依次发送的订阅/握手消息（对 Manager 不透明）
	Handshake []json.RawMessage
	Dialer    Dialer
	Clock     clock.Clock
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		DialTimeout:    15 * time.Second,
		Dialer:         NewWSDialer(),
		Clock:          clock.New(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.Dialer == nil {
		c.Dialer = def.Dialer
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// EndpointState 单个 relay 的只读快照
type EndpointState struct {
	URL         string
	Status      Status
	Attempts    int
	LastError   string
	ConnectedAt time.Time
}

// StatusHandler 状态迁移回调；在 Manager 锁内同步调用，不能回调 Manager
type StatusHandler func(url string, status Status)

// MessageHandler 入站消息回调；在该连接的读 goroutine 中调用
type MessageHandler func(url string, msg json.RawMessage)

type endpoint struct {
	url         string
	status      Status
	attempts    int
	gen         uint64
	closed      bool
	conn        Conn
	timer       *clock.Timer
	cancelDial  context.CancelFunc
	lastErr     error
	connectedAt time.Time
}

// Manager relay 连接池
type Manager struct {
	cfg Config

	mu        sync.Mutex
	entries   map[string]*endpoint
	order     []string
	closed    bool
	onStatus  []StatusHandler
	onMessage []MessageHandler

	changes *sigchan.Broadcaster
	wg      sync.WaitGroup
}

// NewManager 创建连接池
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*endpoint),
		changes: sigchan.NewBroadcaster(),
	}
}

// OnStatus 注册状态回调
func (m *Manager) OnStatus(h StatusHandler) {
	m.mu.Lock()
	m.onStatus = append(m.onStatus, h)
	m.mu.Unlock()
}

// OnMessage 注册消息回调
func (m *Manager) OnMessage(h MessageHandler) {
	m.mu.Lock()
	m.onMessage = append(m.onMessage, h)
	m.mu.Unlock()
}

// Changes 订阅状态变化信号（非阻塞，适合 UI 刷新）
func (m *Manager) Changes() (<-chan struct{}, func()) {
	return m.changes.Subscribe()
}

// NormalizeURL 校验并规整 relay 地址
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: %q: scheme must be ws or wss", ErrInvalidURL, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidURL, raw)
	}
	return s, nil
}

// AddEndpoint 添加 relay 并立即开始连接；已存在时不做任何事
func (m *Manager) AddEndpoint(raw string) error {
	u, err := NormalizeURL(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if e, ok := m.entries[u]; ok && !e.closed {
		return nil
	}
	e := &endpoint{url: u, status: StatusIdle}
	m.entries[u] = e
	m.order = append(m.order, u)
	log.Infof("[relay] 添加 %s", u)
	m.connectLocked(e)
	return nil
}

// RemoveEndpoint 同步移除 relay：取消定时器、取消在途拨号、关闭连接、删除 entry。
// 返回后该 URL 不再产生任何状态迁移。返回 false 表示不存在。
func (m *Manager) RemoveEndpoint(raw string) bool {
	u := strings.TrimSpace(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[u]
	if !ok {
		return false
	}
	m.closeEntryLocked(e)
	delete(m.entries, u)
	for i, v := range m.order {
		if v == u {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	log.Infof("[relay] 移除 %s", u)
	return true
}

// Close 移除全部 relay 并等待所有读/拨号 goroutine 退出
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, u := range m.order {
		if e, ok := m.entries[u]; ok {
			m.closeEntryLocked(e)
		}
	}
	m.entries = make(map[string]*endpoint)
	m.order = nil
	m.mu.Unlock()

	m.wg.Wait()
	log.Infof("[relay] 已关闭")
}

// Status 查询状态；不存在时返回 false
func (m *Manager) Status(raw string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[strings.TrimSpace(raw)]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Endpoints 全部 relay 的快照，按添加顺序
func (m *Manager) Endpoints() []EndpointState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EndpointState, 0, len(m.order))
	for _, u := range m.order {
		e := m.entries[u]
		st := EndpointState{URL: e.url, Status: e.status, Attempts: e.attempts, ConnectedAt: e.connectedAt}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Broadcast 向所有已连接的 relay 发送一条文本消息，返回成功发送的数量。
// 写失败只记录日志，断线由读循环发现并驱动重连。
func (m *Manager) Broadcast(payload []byte) int {
	type target struct {
		url  string
		conn Conn
	}
	m.mu.Lock()
	targets := make([]target, 0, len(m.entries))
	for _, u := range m.order {
		if e := m.entries[u]; e.status == StatusConnected && e.conn != nil {
			targets = append(targets, target{url: u, conn: e.conn})
		}
	}
	m.mu.Unlock()

	sent := 0
	for _, t := range targets {
		if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Warnf("[relay] 发送失败 %s: %v", t.url, err)
			continue
		}
		sent++
	}
	return sent
}

// ---- 状态机（以下 *Locked 方法都要求持有 m.mu）----

func (m *Manager) liveLocked(e *endpoint, gen uint64) bool {
	return !m.closed && !e.closed && m.entries[e.url] == e && e.gen == gen
}

func (m *Manager) setStatusLocked(e *endpoint, s Status) {
	if e.status == s {
		return
	}
	e.status = s
	for _, h := range m.onStatus {
		h(e.url, s)
	}
	m.changes.Emit()
}

func (m *Manager) connectLocked(e *endpoint) {
	e.gen++
	gen := e.gen
	e.timer = nil
	e.attempts++
	m.setStatusLocked(e, StatusConnecting)

	ctx, cancel := m.cfg.Clock.WithTimeout(context.Background(), m.cfg.DialTimeout)
	e.cancelDial = cancel
	m.wg.Add(1)
	go m.run(ctx, cancel, e, gen)
}

func (m *Manager) disconnectLocked(e *endpoint, cause error) {
	e.conn = nil
	e.cancelDial = nil
	e.lastErr = cause
	e.gen++
	gen := e.gen
	m.setStatusLocked(e, StatusDisconnected)
	log.Warnf("[relay] %s 断开, %s 后重连 (第 %d 次尝试): %v", e.url, m.cfg.ReconnectDelay, e.attempts, cause)

	e.timer = m.cfg.Clock.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.reconnect(e, gen)
	})
}

func (m *Manager) closeEntryLocked(e *endpoint) {
	e.closed = true
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cancelDial != nil {
		e.cancelDial()
		e.cancelDial = nil
	}
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
	m.setStatusLocked(e, StatusClosed)
}

// ---- 回调 ----

func (m *Manager) reconnect(e *endpoint, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(e, gen) || e.status != StatusDisconnected {
		return
	}
	metrics.RelayReconnects.Add(1)
	m.connectLocked(e)
}

// run 拨号 + 握手 + 读循环，每次连接尝试一个 goroutine
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, e *endpoint, gen uint64) {
	defer m.wg.Done()

	conn, err := m.cfg.Dialer.Dial(ctx, e.url)
	cancel()

	m.mu.Lock()
	if !m.liveLocked(e, gen) {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.disconnectLocked(e, fmt.Errorf("%w: dial %s: %w", ErrTransport, e.url, err))
		m.mu.Unlock()
		return
	}
	e.conn = conn
	e.cancelDial = nil
	e.attempts = 0
	e.lastErr = nil
	e.connectedAt = m.cfg.Clock.Now()
	m.setStatusLocked(e, StatusConnected)
	handshake := m.cfg.Handshake
	m.mu.Unlock()

	metrics.RelayConnects.Add(1)
	log.Infof("[relay] 已连接 %s", e.url)

	for _, payload := range handshake {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			m.connLost(e, gen, conn, fmt.Errorf("handshake: %w", err))
			return
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.connLost(e, gen, conn, err)
			return
		}
		m.handleFrame(e, gen, data)
	}
}

func (m *Manager) connLost(e *endpoint, gen uint64, conn Conn, err error) {
	_ = conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(e, gen) || e.conn != conn {
		return
	}
	m.disconnectLocked(e, fmt.Errorf("%w: %s: %w", ErrTransport, e.url, err))
}

func (m *Manager) handleFrame(e *endpoint, gen uint64, data []byte) {
	metrics.FramesReceived.Add(1)

	var msg json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.FramesDropped.Add(1)
		log.Warnf("[relay] 丢弃无法解析的消息 %s: %v", e.url, fmt.Errorf("%w: %w", ErrMessageParse, err))
		return
	}

	m.mu.Lock()
	if !m.liveLocked(e, gen) {
		m.mu.Unlock()
		return
	}
	handlers := append([]MessageHandler(nil), m.onMessage...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(e.url, msg)
	}
}
