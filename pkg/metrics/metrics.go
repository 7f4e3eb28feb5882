// 文件: pkg/metrics/metrics.go
// Prometheus 指标
//
// 全部使用 promauto 注册到默认 Registry，/metrics 直接暴露

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TxTotal 宿主执行的交易数，按结果区分
	TxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_tx_total",
		Help: "Transactions executed by the host, by result",
	}, []string{"result"})

	TxDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vperp_tx_duration_seconds",
		Help:    "Host transaction execution latency",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// SwapsTotal vAMM 成交次数
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_vamm_swaps_total",
		Help: "vAMM swaps, by vamm and kind (input/output)",
	}, []string{"vamm", "kind"})

	// SpotPrice 最近一次成交后的现货价格
	SpotPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vperp_vamm_spot_price",
		Help: "Spot price after the latest reserve update",
	}, []string{"vamm"})

	PositionActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_position_actions_total",
		Help: "Position lifecycle actions settled by the margin engine",
	}, []string{"vamm", "action"})

	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_liquidations_total",
		Help: "Liquidations, by vamm and kind (full/partial)",
	}, []string{"vamm", "kind"})

	BadDebtRealized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vperp_bad_debt_realized",
		Help: "Bad debt drawn from the insurance fund (collateral units)",
	})

	FundingSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_funding_settlements_total",
		Help: "Funding settlements, by vamm",
	}, []string{"vamm"})

	// KeeperRuns keeper 每轮扫描
	KeeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_keeper_runs_total",
		Help: "Keeper loop iterations, by keeper and result",
	}, []string{"keeper", "result"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_events_published_total",
		Help: "Committed transactions forwarded to event sinks, by sink and result",
	}, []string{"sink", "result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vperp_http_requests_total",
		Help: "HTTP API requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vperp_http_request_duration_seconds",
		Help:    "HTTP API latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware 记录 HTTP 请求指标
// 挂在 chi 路由上时按路由模板打标签，避免地址参数撑爆基数
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
