// 文件: pkg/api/server.go
// 只读 HTTP 接口: 市场、仓位、索引器里的历史记录
//
// 【路由】
//
//	GET /healthz
//	GET /metrics
//	GET /api/v1/vamms
//	GET /api/v1/vamms/{vamm}
//	GET /api/v1/vamms/{vamm}/positions        ?side=buy|sell&start_after=&limit=
//	GET /api/v1/positions/{vamm}/{trader}
//	GET /api/v1/traders/{trader}/positions
//	以下需要索引器:
//	GET /api/v1/traders/{trader}/trades
//	GET /api/v1/vamms/{vamm}/liquidations
//	GET /api/v1/vamms/{vamm}/funding
//	GET /api/v1/insurance/logs
//
// 金额全部按抵押品精度渲染成十进制字符串

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/indexer"
	"vperp.com/pkg/metrics"
)

// Querier 接口只读，*chain.App 直接满足
type Querier interface {
	Query(contract string, req any) (any, error)
	Block() chain.BlockInfo
}

// Server HTTP 服务
type Server struct {
	chain   Querier
	engine  string
	records indexer.RecordRepository // 可为 nil
	logger  *zap.Logger
	router  chi.Router
}

// New records 为 nil 时不挂历史记录路由
func New(q Querier, engineAddr string, records indexer.RecordRepository, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		chain:   q,
		engine:  engineAddr,
		records: records,
		logger:  logger.Named("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/vamms", s.listVamms)
		r.Get("/vamms/{vamm}", s.getVamm)
		r.Get("/vamms/{vamm}/positions", s.vammPositions)
		r.Get("/positions/{vamm}/{trader}", s.getPosition)
		r.Get("/traders/{trader}/positions", s.traderPositions)

		if s.records != nil {
			r.Get("/traders/{trader}/trades", s.traderTrades)
			r.Get("/vamms/{vamm}/liquidations", s.vammLiquidations)
			r.Get("/vamms/{vamm}/funding", s.vammFunding)
			r.Get("/insurance/logs", s.insuranceLogs)
		}
	})
	return r
}

// Handler 供测试和嵌入使用
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe 阻塞直到 ctx 取消，然后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[API] listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("[API] shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
