// 文件: pkg/indexer/gorm_repo.go
// 投影 GORM 存储实现
//
// 【设计】
// - 生产用 MySQL，测试用纯 Go 的 SQLite，同一份代码
// - 仓位 upsert 走 ON CONFLICT (vamm, trader)，两种方言 GORM 都能翻译

package indexer

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// 确保实现了接口
var (
	_ PositionRepository = (*GormRepository)(nil)
	_ RecordRepository   = (*GormRepository)(nil)
)

// OpenMySQL 打开 MySQL 连接
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

// Migrate 建表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}

// GormRepository 仓位和流水共用一个连接
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository 创建存储
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// =============================================================================
// 仓位
// =============================================================================

func (r *GormRepository) Get(ctx context.Context, vamm, trader string) (*PositionRecord, error) {
	var pos PositionRecord
	err := r.db.WithContext(ctx).
		Where("vamm = ? AND trader = ?", vamm, trader).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return &pos, nil
}

func (r *GormRepository) ListByTrader(ctx context.Context, trader string) ([]*PositionRecord, error) {
	var list []*PositionRecord
	err := r.db.WithContext(ctx).
		Where("trader = ?", trader).
		Order("vamm").
		Find(&list).Error
	return list, err
}

func (r *GormRepository) ListByVamm(ctx context.Context, vamm string, limit, offset int) ([]*PositionRecord, error) {
	var list []*PositionRecord
	err := r.db.WithContext(ctx).
		Where("vamm = ?", vamm).
		Order("trader").
		Limit(normalizeLimit(limit)).
		Offset(offset).
		Find(&list).Error
	return list, err
}

// Save 按 (vamm, trader) upsert，ID 只在首次插入时生效
func (r *GormRepository) Save(ctx context.Context, pos *PositionRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vamm"}, {Name: "trader"}},
			DoUpdates: clause.AssignmentColumns([]string{"side", "size", "margin", "notional", "height", "updated_at"}),
		}).
		Create(pos).Error
}

func (r *GormRepository) Delete(ctx context.Context, vamm, trader string) error {
	return r.db.WithContext(ctx).
		Where("vamm = ? AND trader = ?", vamm, trader).
		Delete(&PositionRecord{}).Error
}

// =============================================================================
// 流水
// =============================================================================

func (r *GormRepository) SaveTrade(ctx context.Context, rec *TradeRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *GormRepository) SaveLiquidation(ctx context.Context, rec *LiquidationRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *GormRepository) SaveFunding(ctx context.Context, rec *FundingRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *GormRepository) SaveInsuranceLog(ctx context.Context, rec *InsuranceFundLog) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *GormRepository) ListTrades(ctx context.Context, trader string, limit int) ([]*TradeRecord, error) {
	var list []*TradeRecord
	err := r.db.WithContext(ctx).
		Where("trader = ?", trader).
		Order("tx_seq DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Find(&list).Error
	return list, err
}

func (r *GormRepository) ListLiquidations(ctx context.Context, vamm string, limit int) ([]*LiquidationRecord, error) {
	var list []*LiquidationRecord
	err := r.db.WithContext(ctx).
		Where("vamm = ?", vamm).
		Order("tx_seq DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Find(&list).Error
	return list, err
}

func (r *GormRepository) ListFunding(ctx context.Context, vamm string, limit int) ([]*FundingRecord, error) {
	var list []*FundingRecord
	err := r.db.WithContext(ctx).
		Where("vamm = ?", vamm).
		Order("tx_seq DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Find(&list).Error
	return list, err
}

func (r *GormRepository) ListInsuranceLogs(ctx context.Context, limit int) ([]*InsuranceFundLog, error) {
	var list []*InsuranceFundLog
	err := r.db.WithContext(ctx).
		Order("tx_seq DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Find(&list).Error
	return list, err
}
