package orderserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/granola/granola/internal/domain"
)

// Repository 订单持久化
type Repository interface {
	List(ctx context.Context) ([]domain.Order, error)
	Insert(ctx context.Context, o domain.Order) error
	// Delete 返回 false 表示订单不存在
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// StorageConfig 存储配置
type StorageConfig struct {
	Backend string // sqlite（默认）| badger
	Path    string // sqlite 文件路径 / badger 目录
	// InMemory 仅 badger：不落盘（测试、演示）
	InMemory bool
}

// OpenRepository 按配置打开存储
func OpenRepository(cfg StorageConfig) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		return OpenSQLite(cfg.Path)
	case BackendBadger:
		return OpenBadger(cfg.Path, cfg.InMemory)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
