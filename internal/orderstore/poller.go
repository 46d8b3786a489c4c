package orderstore

import (
	"context"
	"errors"
)

// Start 启动周期同步：立即拉取一次，此后每 PollInterval 拉取一次。
// 只会启动一次，重复调用无效果。
func (s *Store) Start(parent context.Context) {
	s.loopOnce.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		done := make(chan struct{})

		s.loopMu.Lock()
		s.cancel = cancel
		s.done = done
		s.loopMu.Unlock()

		go s.pollLoop(ctx, done)
	})
}

// Stop 取消同步循环并等待其退出；未启动时直接返回
func (s *Store) Stop() {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Store) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.cfg.Clock.Ticker(s.cfg.PollInterval)
	defer ticker.Stop()

	log.Infof("[同步] 启动, 周期 %s, 宽限窗口 %s", s.cfg.PollInterval, s.cfg.GraceWindow)
	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Infof("[同步] 已停止")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Store) pollOnce(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		log.Warnf("[同步] 拉取远端订单失败，保持当前状态: %v", err)
	}
}
