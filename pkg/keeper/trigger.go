// 文件: pkg/keeper/trigger.go
// 止盈止损触发机器人
//
// 【流程】
//  1. 第一次 Tick 全量同步: 遍历所有仓位，把触发价写进索引
//  2. 之后作为 chain.EventSink 挂在宿主上，引擎事件里出现的 (vamm, trader) 标记为脏
//  3. 每个 Tick 先刷新脏仓位，再按各 vAMM 现价从索引取出已满足的条件，发 TriggerTpSl
//
// 【注意】TriggerTpSl 成交后宿主会同步回调 Publish，所以发交易时不能持有 w.mu

package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/vamm"
)

const DefaultTriggerInterval = time.Second

type pair struct{ vamm, trader string }

// TriggerWatcher 止盈止损触发
type TriggerWatcher struct {
	chain    Chain
	engine   string
	sender   string
	index    TriggerIndex
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	dirty  map[pair]struct{}
	synced bool
}

var _ chain.EventSink = (*TriggerWatcher)(nil)

func NewTriggerWatcher(c Chain, engineAddr, sender string, index TriggerIndex, interval time.Duration, logger *zap.Logger) *TriggerWatcher {
	if interval <= 0 {
		interval = DefaultTriggerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerWatcher{
		chain:    c,
		engine:   engineAddr,
		sender:   sender,
		index:    index,
		interval: interval,
		logger:   logger.Named("tpsl"),
		dirty:    make(map[pair]struct{}),
	}
}

func (w *TriggerWatcher) Run(ctx context.Context) error {
	return Loop(ctx, "tpsl", w.interval, w.logger, func(ctx context.Context) error {
		_, err := w.Tick(ctx)
		return err
	})
}

// Publish 实现 chain.EventSink，只做标记
func (w *TriggerWatcher) Publish(tx chain.TxResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ev := range tx.Events {
		if c, _ := ev.Get("_contract_address"); c != w.engine {
			continue
		}
		v, ok1 := ev.Get("vamm")
		t, ok2 := ev.Get("trader")
		if ok1 && ok2 && v != "" && t != "" {
			w.dirty[pair{v, t}] = struct{}{}
		}
	}
	return nil
}

// Sync 全量重建索引
func (w *TriggerWatcher) Sync(ctx context.Context) error {
	_, vamms, err := listVamms(w.chain, w.engine)
	if err != nil {
		return err
	}
	for _, v := range vamms {
		if err := w.index.Clear(ctx, v); err != nil {
			return err
		}
		err := eachPosition(w.chain, w.engine, v, func(p engine.Position) error {
			triggers := TriggersOf(p)
			if len(triggers) == 0 {
				return nil
			}
			return w.index.Replace(ctx, p.Vamm, p.Trader, triggers)
		})
		if err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.synced = true
	w.mu.Unlock()
	return nil
}

// refresh 重新读取脏仓位
func (w *TriggerWatcher) refresh(ctx context.Context) error {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = make(map[pair]struct{})
	w.mu.Unlock()

	for p := range dirty {
		pos, err := query[engine.Position](w.chain, w.engine, engine.PositionQuery{Vamm: p.vamm, Trader: p.trader})
		if err != nil && !errors.Is(err, engine.ErrNoPosition) {
			// 放回去下轮再试
			w.mu.Lock()
			w.dirty[p] = struct{}{}
			w.mu.Unlock()
			return err
		}
		if err := w.index.Replace(ctx, p.vamm, p.trader, TriggersOf(pos)); err != nil {
			return err
		}
	}
	return nil
}

// Tick 返回本轮成功触发的仓位数
func (w *TriggerWatcher) Tick(ctx context.Context) (int, error) {
	w.mu.Lock()
	synced := w.synced
	w.mu.Unlock()
	if !synced {
		if err := w.Sync(ctx); err != nil {
			return 0, err
		}
	}
	if err := w.refresh(ctx); err != nil {
		return 0, err
	}

	_, vamms, err := listVamms(w.chain, w.engine)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, v := range vamms {
		spot, err := query[fixed.Uint](w.chain, v, vamm.GetSpotPrice{})
		if err != nil {
			w.logger.Warn("read spot price failed", zap.String("vamm", v), zap.Error(err))
			continue
		}
		due, err := w.index.Due(ctx, v, spot)
		if err != nil {
			return fired, err
		}
		seen := make(map[string]struct{}, len(due))
		for _, tr := range due {
			if _, ok := seen[tr.Trader]; ok {
				continue
			}
			seen[tr.Trader] = struct{}{}
			if ctx.Err() != nil {
				return fired, nil
			}
			if w.fire(tr, spot) {
				fired++
			}
		}
	}
	return fired, nil
}

func (w *TriggerWatcher) fire(tr Trigger, spot fixed.Uint) bool {
	_, err := w.chain.Execute(w.sender, w.engine, engine.TriggerTpSl{Vamm: tr.Vamm, Trader: tr.Trader})
	switch {
	case err == nil:
		w.logger.Info("tp/sl fired",
			zap.String("vamm", tr.Vamm),
			zap.String("trader", tr.Trader),
			zap.String("kind", string(tr.Kind)),
			zap.String("spot", spot.String()))
		return true
	case errors.Is(err, engine.ErrTpSlNotTriggered):
		// 索引精度或状态滞后，等下一轮
		w.logger.Debug("tp/sl not triggered", zap.String("vamm", tr.Vamm), zap.String("trader", tr.Trader))
	default:
		w.logger.Warn("tp/sl trigger failed",
			zap.String("vamm", tr.Vamm), zap.String("trader", tr.Trader), zap.Error(err))
	}
	// 失败的也重读一遍，仓位可能已经不在了
	w.mu.Lock()
	w.dirty[pair{tr.Vamm, tr.Trader}] = struct{}{}
	w.mu.Unlock()
	return false
}
