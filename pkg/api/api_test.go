// 文件: pkg/api/api_test.go

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vperp.com/pkg/config"
	"vperp.com/pkg/devnet"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/indexer"
	"vperp.com/pkg/storage"
)

const market = "vamm-eth"

func setupDevnet(t *testing.T) *devnet.Devnet {
	cfg := config.Default()
	cfg.Chain.StartTime = 1_700_000_000
	d, err := devnet.Deploy(devnet.NewApp(storage.NewMemStore(), cfg.Chain, zap.NewNop()), cfg.Genesis)
	require.NoError(t, err)
	return d
}

// setupRecords 内存 SQLite 上的索引器，挂到宿主上
func setupRecords(t *testing.T, d *devnet.Devnet) *indexer.GormRepository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, indexer.Migrate(db))

	ids, err := indexer.NewIDGenerator(1)
	require.NoError(t, err)
	repo := indexer.NewGormRepository(db)
	d.App.AddSink("indexer", indexer.NewProjector(indexer.ProjectorConfig{Engine: d.Engine, Insurance: d.Insurance}, repo, repo, ids, zap.NewNop()))
	return repo
}

func num(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openLong(t *testing.T, d *devnet.Devnet, trader string) {
	margin, err := d.Units(num("100"))
	require.NoError(t, err)
	lev, err := d.Units(num("5"))
	require.NoError(t, err)
	tp, err := d.Units(num("1100"))
	require.NoError(t, err)
	_, err = d.App.Execute(trader, d.Engine, engine.OpenPosition{
		Vamm: market, Side: engine.Buy, QuoteAssetAmount: margin, Leverage: lev, TakeProfit: &tp,
	})
	require.NoError(t, err)
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(w.Body).Decode(out), w.Body.String())
	}
	return w.Code
}

func TestHealthAndMetrics(t *testing.T) {
	d := setupDevnet(t)
	h := New(d.App, d.Engine, nil, nil).Handler()

	var body map[string]any
	require.Equal(t, http.StatusOK, get(t, h, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vperp_http_requests_total")
}

func TestVammEndpoints(t *testing.T) {
	d := setupDevnet(t)
	h := New(d.App, d.Engine, nil, zap.NewNop()).Handler()

	var list []VammView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/vamms", &list))
	require.Len(t, list, len(d.Markets))
	assert.Equal(t, market, list[0].Address)

	var v VammView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/vamms/"+market, &v))
	assert.True(t, v.Open)
	assert.Equal(t, "ETH", v.BaseAsset)
	assert.True(t, v.SpotPrice.Equal(num("1000")), v.SpotPrice.String())
	assert.True(t, v.QuoteAssetReserve.Equal(num("1000000")))
	require.NotNil(t, v.OraclePrice)
	assert.True(t, v.OraclePrice.Equal(num("1000")))

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/vamms/vamm-nope", nil))
}

func TestPositionEndpoints(t *testing.T) {
	d := setupDevnet(t)
	h := New(d.App, d.Engine, nil, zap.NewNop()).Handler()
	openLong(t, d, "alice")

	var p PositionView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/positions/"+market+"/alice", &p))
	assert.Equal(t, engine.Buy, p.Side)
	assert.True(t, p.Size.IsPositive())
	assert.True(t, p.Margin.Equal(num("100")), p.Margin.String())
	assert.True(t, p.Notional.Equal(num("500")), p.Notional.String())
	require.NotNil(t, p.TakeProfit)
	assert.True(t, p.TakeProfit.Equal(num("1100")))
	assert.Nil(t, p.StopLoss)
	// 自己的成交推高了现价，多头浮盈
	assert.True(t, p.UnrealizedPnl.IsPositive(), p.UnrealizedPnl.String())
	assert.True(t, p.MarginRatio.GreaterThan(num("0.1")), p.MarginRatio.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/positions/"+market+"/bob", nil))

	var page PositionsPage
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/vamms/"+market+"/positions?side=buy", &page))
	require.Len(t, page.Positions, 1)
	assert.Equal(t, "alice", page.Positions[0].Trader)

	page = PositionsPage{}
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/vamms/"+market+"/positions?side=sell", &page))
	assert.Empty(t, page.Positions)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/vamms/"+market+"/positions?side=up", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/vamms/"+market+"/positions?limit=x", nil))

	var mine []PositionView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/traders/alice/positions", &mine))
	assert.Len(t, mine, 1)
	mine = nil
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/traders/carol/positions", &mine))
	assert.Empty(t, mine)
}

func TestRecordEndpoints(t *testing.T) {
	d := setupDevnet(t)

	// 没有索引器时不挂历史路由
	assert.Equal(t, http.StatusNotFound, get(t, New(d.App, d.Engine, nil, nil).Handler(), "/api/v1/insurance/logs", nil))

	repo := setupRecords(t, d)
	h := New(d.App, d.Engine, repo, zap.NewNop()).Handler()
	openLong(t, d, "alice")

	var trades []indexer.TradeRecord
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/traders/alice/trades?limit=10", &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, market, trades[0].Vamm)
	assert.Equal(t, "alice", trades[0].Trader)

	var liqs []indexer.LiquidationRecord
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/vamms/"+market+"/liquidations", &liqs))
	assert.Empty(t, liqs)

	var logs []indexer.InsuranceFundLog
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/insurance/logs", &logs))

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/vamms/"+market+"/funding?limit=-1", nil))
}
