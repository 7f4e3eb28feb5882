// 文件: pkg/indexer/gorm_repo_test.go
// 仓库测试跑在纯 Go 的内存 SQLite 上，不需要外部 MySQL

package indexer

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// 内存库按连接隔离，只留一个连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func setupTestIDs(t *testing.T) *IDGenerator {
	ids, err := NewIDGenerator(1)
	require.NoError(t, err)
	return ids
}

func TestGormPositionUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRepository(setupTestDB(t))
	ids := setupTestIDs(t)

	first := &PositionRecord{ID: ids.Next(), Vamm: "vamm", Trader: "alice", Side: "buy", Size: "10", Margin: "5", Notional: "50", Height: 1}
	require.NoError(t, repo.Save(ctx, first))

	// 同一 (vamm, trader) 再写一次只更新，不插新行
	require.NoError(t, repo.Save(ctx, &PositionRecord{ID: ids.Next(), Vamm: "vamm", Trader: "alice", Side: "sell", Size: "-3", Margin: "7", Notional: "30", Height: 2}))

	got, err := repo.Get(ctx, "vamm", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "sell", got.Side)
	assert.Equal(t, "-3", got.Size)
	assert.Equal(t, "7", got.Margin)
	assert.Equal(t, uint64(2), got.Height)

	var count int64
	require.NoError(t, repo.db.Model(&PositionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.Delete(ctx, "vamm", "alice"))
	_, err = repo.Get(ctx, "vamm", "alice")
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestGormPositionLists(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRepository(setupTestDB(t))
	ids := setupTestIDs(t)

	for _, p := range []struct{ vamm, trader string }{
		{"vamm-eth", "carol"}, {"vamm-eth", "alice"}, {"vamm-btc", "alice"}, {"vamm-eth", "bob"},
	} {
		require.NoError(t, repo.Save(ctx, &PositionRecord{ID: ids.Next(), Vamm: p.vamm, Trader: p.trader, Side: "buy", Size: "1", Margin: "1", Notional: "1"}))
	}

	mine, err := repo.ListByTrader(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "vamm-btc", mine[0].Vamm)
	assert.Equal(t, "vamm-eth", mine[1].Vamm)

	page, err := repo.ListByVamm(ctx, "vamm-eth", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "alice", page[0].Trader)
	assert.Equal(t, "bob", page[1].Trader)

	page, err = repo.ListByVamm(ctx, "vamm-eth", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "carol", page[0].Trader)
}

func TestGormRecordsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRepository(setupTestDB(t))
	ids := setupTestIDs(t)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, repo.SaveTrade(ctx, &TradeRecord{ID: ids.Next(), TxSeq: seq, Vamm: "vamm", Trader: "alice", Action: "increase_position"}))
		require.NoError(t, repo.SaveFunding(ctx, &FundingRecord{ID: ids.Next(), TxSeq: seq, Vamm: "vamm", PremiumFraction: "1", CumulativePremiumFraction: "1"}))
	}
	require.NoError(t, repo.SaveTrade(ctx, &TradeRecord{ID: ids.Next(), TxSeq: 4, Vamm: "vamm", Trader: "bob", Action: "increase_position"}))
	require.NoError(t, repo.SaveLiquidation(ctx, &LiquidationRecord{ID: ids.Next(), TxSeq: 5, Vamm: "vamm", Trader: "alice", Liquidator: "keeper"}))
	require.NoError(t, repo.SaveInsuranceLog(ctx, &InsuranceFundLog{ID: ids.Next(), TxSeq: 5, Direction: FundIn, Reason: "liquidation_fee", Amount: "3"}))

	trades, err := repo.ListTrades(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, uint64(3), trades[0].TxSeq)
	assert.Equal(t, uint64(2), trades[1].TxSeq)

	funding, err := repo.ListFunding(ctx, "vamm", 0)
	require.NoError(t, err)
	assert.Len(t, funding, 3)

	liqs, err := repo.ListLiquidations(ctx, "vamm", 10)
	require.NoError(t, err)
	require.Len(t, liqs, 1)
	assert.Equal(t, "keeper", liqs[0].Liquidator)

	logs, err := repo.ListInsuranceLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, FundIn, logs[0].Direction)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, normalizeLimit(0))
	assert.Equal(t, 7, normalizeLimit(7))
	assert.Equal(t, maxListLimit, normalizeLimit(10_000))
}
