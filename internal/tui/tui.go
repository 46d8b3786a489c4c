package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run 运行终端界面，直到用户按 q 或 ctx 结束。
// 界面只订阅 Changes()，不在 relay/store 的回调里操作界面。
func Run(ctx context.Context, book OrderBook, relays Relays) error {
	storeCh, unsubStore := book.Changes()
	defer unsubStore()
	relayCh, unsubRelay := relays.Changes()
	defer unsubRelay()

	m := newModel(ctx, book, relays, storeCh, relayCh)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	log.Info("[界面] 启动")
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
