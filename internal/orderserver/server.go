// Package orderserver 参考订单服务：GET /orders、POST /order、DELETE /order/:id。
// 只做存取，不做撮合。
package orderserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/internal/ordersvc"
)

var log = logrus.WithField("component", "orderserver")

// Server HTTP 服务
type Server struct {
	repo Repository
}

// New 创建服务；repo 的生命周期由调用方管理
func New(repo Repository) *Server {
	return &Server{repo: repo}
}

// Router gin 路由外面包一层 CORS（预检直接由 cors 处理）
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/orders", s.handleOrdersList)
	r.POST("/order", s.handleOrderCreate)
	r.DELETE("/order/:id", s.handleOrderDelete)
	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "Endpoint not found")
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:         86400,
	}).Handler(r)
}

// Run 监听并服务，ctx 结束时优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Infof("订单服务已启动: http://%s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleOrdersList(c *gin.Context) {
	orders, err := s.repo.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	out := make([]ordersvc.OrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, ordersvc.NewOrderDTO(o))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleOrderCreate(c *gin.Context) {
	var body ordersvc.OrderRequestDTO
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	req, err := body.ToDomain()
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	order := domain.NewOrder(NewOrderID(), req)
	if err := s.repo.Insert(c.Request.Context(), order); err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	log.Infof("[订单] 创建 %s %s %s -> %s %s", order.ID, order.MakeAmount, order.MakeDenomination, order.TakeAmount, order.TakeDenomination)
	c.JSON(http.StatusCreated, ordersvc.NewOrderDTO(order))
}

func (s *Server) handleOrderDelete(c *gin.Context) {
	id := c.Param("id")
	found, err := s.repo.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	if !found {
		writeError(c, http.StatusNotFound, fmt.Sprintf("Order %s not found", id))
		return
	}
	log.Infof("[订单] 删除 %s", id)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Order %s deleted successfully", id)})
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("http")
	}
}
