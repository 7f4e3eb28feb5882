// 文件: pkg/indexer/model.go
// 链下投影表
//
// 【设计】
// - 金额全部按定点整数的十进制字符串落库，避免 float 精度问题
// - 仓位表以 (vamm, trader) 唯一，其余是只追加的流水表
// - 主键用雪花 ID，按时间大致有序

package indexer

// PositionRecord 当前仓位快照
type PositionRecord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Vamm     string `gorm:"type:varchar(64);not null;uniqueIndex:uk_vamm_trader" json:"vamm"`
	Trader   string `gorm:"type:varchar(64);not null;uniqueIndex:uk_vamm_trader;index" json:"trader"`
	Side     string `gorm:"type:varchar(8);not null" json:"side"`
	Size     string `gorm:"type:varchar(80);not null" json:"size"` // 带符号
	Margin   string `gorm:"type:varchar(80);not null" json:"margin"`
	Notional string `gorm:"type:varchar(80);not null" json:"notional"`

	Height    uint64 `gorm:"not null" json:"height"`
	UpdatedAt uint64 `gorm:"not null" json:"updated_at"` // 区块时间 (秒)
}

func (PositionRecord) TableName() string { return "positions" }

// TradeRecord 一次仓位变动
type TradeRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TxSeq          uint64 `gorm:"index;not null" json:"tx_seq"`
	Height         uint64 `gorm:"not null" json:"height"`
	Time           uint64 `gorm:"not null" json:"time"`
	Vamm           string `gorm:"type:varchar(64);not null;index:idx_trade_vamm" json:"vamm"`
	Trader         string `gorm:"type:varchar(64);not null;index:idx_trade_trader" json:"trader"`
	Action         string `gorm:"type:varchar(32);not null" json:"action"`
	Size           string `gorm:"type:varchar(80)" json:"size"`
	ExchangedQuote string `gorm:"type:varchar(80)" json:"exchanged_quote"`
	ExchangedSize  string `gorm:"type:varchar(80)" json:"exchanged_size"`
	Pnl            string `gorm:"type:varchar(80)" json:"pnl"`
	FundingPayment string `gorm:"type:varchar(80)" json:"funding_payment"`
	SpreadFee      string `gorm:"type:varchar(80)" json:"spread_fee"`
	TollFee        string `gorm:"type:varchar(80)" json:"toll_fee"`
}

func (TradeRecord) TableName() string { return "trade_records" }

// LiquidationRecord 一次 (部分) 清算
type LiquidationRecord struct {
	ID              int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TxSeq           uint64 `gorm:"index;not null" json:"tx_seq"`
	Height          uint64 `gorm:"not null" json:"height"`
	Time            uint64 `gorm:"not null" json:"time"`
	Vamm            string `gorm:"type:varchar(64);not null;index" json:"vamm"`
	Trader          string `gorm:"type:varchar(64);not null" json:"trader"`
	Liquidator      string `gorm:"type:varchar(64);not null" json:"liquidator"`
	Partial         bool   `gorm:"not null" json:"partial"`
	ExchangedQuote  string `gorm:"type:varchar(80)" json:"exchanged_quote"`
	Pnl             string `gorm:"type:varchar(80)" json:"pnl"`
	LiquidationFee  string `gorm:"type:varchar(80)" json:"liquidation_fee"`
	FeeToLiquidator string `gorm:"type:varchar(80)" json:"fee_to_liquidator"`
	FeeToInsurance  string `gorm:"type:varchar(80)" json:"fee_to_insurance"`
	BadDebt         string `gorm:"type:varchar(80)" json:"bad_debt"`
}

func (LiquidationRecord) TableName() string { return "liquidation_records" }

// FundingRecord 一次资金费结算
type FundingRecord struct {
	ID                        int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TxSeq                     uint64 `gorm:"index;not null" json:"tx_seq"`
	Height                    uint64 `gorm:"not null" json:"height"`
	Time                      uint64 `gorm:"not null" json:"time"`
	Vamm                      string `gorm:"type:varchar(64);not null;index" json:"vamm"`
	PremiumFraction           string `gorm:"type:varchar(80);not null" json:"premium_fraction"`
	CumulativePremiumFraction string `gorm:"type:varchar(80);not null" json:"cumulative_premium_fraction"`
}

func (FundingRecord) TableName() string { return "funding_records" }

// 保险基金流水方向
const (
	FundIn  = "in"
	FundOut = "out"
)

// InsuranceFundLog 保险基金流水
type InsuranceFundLog struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TxSeq     uint64 `gorm:"index;not null" json:"tx_seq"`
	Height    uint64 `gorm:"not null" json:"height"`
	Time      uint64 `gorm:"not null" json:"time"`
	Direction string `gorm:"type:varchar(8);not null" json:"direction"`
	Reason    string `gorm:"type:varchar(32);not null" json:"reason"` // liquidation_fee / bad_debt
	Vamm      string `gorm:"type:varchar(64)" json:"vamm"`
	Amount    string `gorm:"type:varchar(80);not null" json:"amount"`
}

func (InsuranceFundLog) TableName() string { return "insurance_fund_logs" }

// allModels AutoMigrate 用
func allModels() []any {
	return []any{&PositionRecord{}, &TradeRecord{}, &LiquidationRecord{}, &FundingRecord{}, &InsuranceFundLog{}}
}
