package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "metrics")

var (
	publishMu sync.Mutex
	published = map[string]*funcVar{}
)

// funcVar 可替换的 expvar.Func；expvar 不允许重复注册同名变量
type funcVar struct {
	mu sync.RWMutex
	f  func() any
}

func (v *funcVar) String() string {
	v.mu.RLock()
	f := v.f
	v.mu.RUnlock()
	return expvar.Func(f).String()
}

// Publish 以只读快照的形式暴露运行时状态（余额、relay 状态等）。
// 同名重复调用会替换旧的取值函数。
func Publish(name string, f func() any) {
	publishMu.Lock()
	defer publishMu.Unlock()
	if v, ok := published[name]; ok {
		v.mu.Lock()
		v.f = f
		v.mu.Unlock()
		return
	}
	v := &funcVar{f: f}
	published[name] = v
	expvar.Publish(name, v)
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartAsync 启动 metrics/debug 服务（非阻塞），ctx 结束时优雅关闭：
// - expvar: /debug/vars
// - pprof:  /debug/pprof
func StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics 服务异常退出: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics 已启动: http://%s/debug/vars", s.Addr)
	return s, nil
}
