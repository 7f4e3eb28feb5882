// 文件: pkg/indexer/projector.go
// 事件投影器: 把已提交交易的事件写成链下表
//
// 【职责】
// - 保证金引擎的仓位回调事件 → positions + trade_records (+ liquidation_records)
// - pay_funding_reply → funding_records
// - 清算手续费、点差费入保险基金，insurance_withdraw 出保险基金 → insurance_fund_logs
//
// 【设计】
// - 实现 chain.EventSink，可以直接挂在 App 上，也可以挂在 NATS / Kafka 消费端后面
// - 只认 _contract_address，同名 action 来自别的合约一律忽略

package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
)

var _ chain.EventSink = (*Projector)(nil)

// 引擎回调里会改变仓位的 action
var positionActions = map[string]bool{
	"increase_position":          true,
	"decrease_position":          true,
	"reverse_position":           true,
	"close_position":             true,
	"partial_close_position":     true,
	"liquidate_position":         true,
	"partial_liquidate_position": true,
}

// ProjectorConfig 需要识别的合约地址
type ProjectorConfig struct {
	Engine    string
	Insurance string
	Timeout   time.Duration // 单笔交易落库超时，默认 5s
}

// Projector 事件投影
type Projector struct {
	cfg       ProjectorConfig
	positions PositionRepository
	records   RecordRepository
	ids       *IDGenerator
	logger    *zap.Logger
}

// NewProjector 创建投影器
func NewProjector(cfg ProjectorConfig, positions PositionRepository, records RecordRepository, ids *IDGenerator, logger *zap.Logger) *Projector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		cfg:       cfg,
		positions: positions,
		records:   records,
		ids:       ids,
		logger:    logger.Named("projector"),
	}
}

// Publish 实现 chain.EventSink
func (p *Projector) Publish(tx chain.TxResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()
	return p.Project(ctx, tx)
}

// Project 按事件顺序投影一笔交易
func (p *Projector) Project(ctx context.Context, tx chain.TxResult) error {
	for _, ev := range tx.Events {
		addr, _ := ev.Get("_contract_address")
		action, _ := ev.Get("action")

		// 开仓、平仓第一阶段也带同名 action，仓位结果只在回调事件里
		reply := ev.Type == "reply"

		var err error
		switch {
		case addr == p.cfg.Engine && reply && positionActions[action]:
			err = p.projectPosition(ctx, tx, ev, action)
		case addr == p.cfg.Engine && (action == "deposit_margin" || action == "withdraw_margin"):
			err = p.projectMargin(ctx, tx, ev)
		case addr == p.cfg.Engine && reply && action == "pay_funding_reply":
			err = p.projectFunding(ctx, tx, ev)
		case addr == p.cfg.Insurance && action == "insurance_withdraw":
			err = p.fundLog(ctx, tx, FundOut, "bad_debt", "", attr(ev, "amount"))
		}
		if err != nil {
			p.logger.Error("[Projector] event failed",
				zap.Uint64("seq", tx.Seq),
				zap.String("contract", addr),
				zap.String("action", action),
				zap.Error(err))
			return fmt.Errorf("project %s/%s at tx %d: %w", addr, action, tx.Seq, err)
		}
	}
	return nil
}

// =============================================================================
// 仓位
// =============================================================================

func (p *Projector) projectPosition(ctx context.Context, tx chain.TxResult, ev chain.Event, action string) error {
	vamm, trader := attr(ev, "vamm"), attr(ev, "trader")
	if vamm == "" || trader == "" {
		return fmt.Errorf("%w: %s without vamm/trader", ErrInvalidEvent, action)
	}
	size, err := fixed.ParseInteger(attr(ev, "size"))
	if err != nil {
		return fmt.Errorf("%w: size: %v", ErrInvalidEvent, err)
	}

	if size.IsZero() {
		err = p.positions.Delete(ctx, vamm, trader)
	} else {
		side := engine.Buy
		if size.IsNegative() {
			side = engine.Sell
		}
		err = p.positions.Save(ctx, &PositionRecord{
			ID:        p.ids.Next(),
			Vamm:      vamm,
			Trader:    trader,
			Side:      side.String(),
			Size:      size.String(),
			Margin:    attr(ev, "margin"),
			Notional:  attr(ev, "notional"),
			Height:    tx.Height,
			UpdatedAt: tx.Time,
		})
	}
	if err != nil {
		return err
	}

	if err := p.records.SaveTrade(ctx, &TradeRecord{
		ID:             p.ids.Next(),
		TxSeq:          tx.Seq,
		Height:         tx.Height,
		Time:           tx.Time,
		Vamm:           vamm,
		Trader:         trader,
		Action:         action,
		Size:           size.String(),
		ExchangedQuote: attr(ev, "exchanged_quote"),
		ExchangedSize:  attr(ev, "exchanged_size"),
		Pnl:            attr(ev, "pnl"),
		FundingPayment: attr(ev, "funding_payment"),
		SpreadFee:      attr(ev, "spread_fee"),
		TollFee:        attr(ev, "toll_fee"),
	}); err != nil {
		return err
	}

	if spread := attr(ev, "spread_fee"); isPositive(spread) {
		if err := p.fundLog(ctx, tx, FundIn, "spread_fee", vamm, spread); err != nil {
			return err
		}
	}

	if action != "liquidate_position" && action != "partial_liquidate_position" {
		return nil
	}
	if err := p.records.SaveLiquidation(ctx, &LiquidationRecord{
		ID:              p.ids.Next(),
		TxSeq:           tx.Seq,
		Height:          tx.Height,
		Time:            tx.Time,
		Vamm:            vamm,
		Trader:          trader,
		Liquidator:      attr(ev, "liquidator"),
		Partial:         action == "partial_liquidate_position",
		ExchangedQuote:  attr(ev, "exchanged_quote"),
		Pnl:             attr(ev, "pnl"),
		LiquidationFee:  attr(ev, "liquidation_fee"),
		FeeToLiquidator: attr(ev, "fee_to_liquidator"),
		FeeToInsurance:  attr(ev, "fee_to_insurance_fund"),
		BadDebt:         orZero(attr(ev, "bad_debt")),
	}); err != nil {
		return err
	}
	if fee := attr(ev, "fee_to_insurance_fund"); isPositive(fee) {
		return p.fundLog(ctx, tx, FundIn, "liquidation_fee", vamm, fee)
	}
	return nil
}

// projectMargin 追加/提取保证金只改 margin
func (p *Projector) projectMargin(ctx context.Context, tx chain.TxResult, ev chain.Event) error {
	pos, err := p.positions.Get(ctx, attr(ev, "vamm"), attr(ev, "trader"))
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			p.logger.Warn("[Projector] margin change for unknown position",
				zap.String("vamm", attr(ev, "vamm")), zap.String("trader", attr(ev, "trader")))
			return nil
		}
		return err
	}
	pos.Margin = attr(ev, "margin")
	pos.Height = tx.Height
	pos.UpdatedAt = tx.Time
	return p.positions.Save(ctx, pos)
}

// =============================================================================
// 资金费 / 保险基金
// =============================================================================

func (p *Projector) projectFunding(ctx context.Context, tx chain.TxResult, ev chain.Event) error {
	pf := attr(ev, "premium_fraction")
	if _, err := fixed.ParseInteger(pf); err != nil {
		return fmt.Errorf("%w: premium_fraction: %v", ErrInvalidEvent, err)
	}
	return p.records.SaveFunding(ctx, &FundingRecord{
		ID:                        p.ids.Next(),
		TxSeq:                     tx.Seq,
		Height:                    tx.Height,
		Time:                      tx.Time,
		Vamm:                      attr(ev, "vamm"),
		PremiumFraction:           pf,
		CumulativePremiumFraction: attr(ev, "cumulative_premium_fraction"),
	})
}

func (p *Projector) fundLog(ctx context.Context, tx chain.TxResult, dir, reason, vamm, amount string) error {
	if _, err := fixed.ParseUint(amount); err != nil {
		return fmt.Errorf("%w: amount: %v", ErrInvalidEvent, err)
	}
	return p.records.SaveInsuranceLog(ctx, &InsuranceFundLog{
		ID:        p.ids.Next(),
		TxSeq:     tx.Seq,
		Height:    tx.Height,
		Time:      tx.Time,
		Direction: dir,
		Reason:    reason,
		Vamm:      vamm,
		Amount:    amount,
	})
}

func attr(ev chain.Event, key string) string {
	v, _ := ev.Get(key)
	return v
}

func isPositive(s string) bool {
	v, err := fixed.ParseUint(s)
	return err == nil && !v.IsZero()
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
