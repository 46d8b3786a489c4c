package sigchan

import "sync"

// Chan 是一个非阻塞的信号 channel
// 用于通知事件发生，但不传递数据；多次 Emit 在消费前会合并为一次
type Chan struct {
	c chan struct{}
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号（非阻塞，channel 已满时丢弃）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Broadcaster 把一次 Emit 扇出给所有订阅者（TUI、headless 日志等）
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*Chan
	nextID int
}

// NewBroadcaster 创建扇出器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*Chan)}
}

// Subscribe 注册一个订阅者，返回信号 channel 和取消函数
func (b *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := New(1)
	b.subs[id] = ch
	return ch.C(), func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit 通知所有订阅者（非阻塞）
func (b *Broadcaster) Emit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		ch.Emit()
	}
}
