// 文件: pkg/keeper/trigger_index.go
// 止盈止损触发价索引
//
// 每个 vAMM 两个有序集合:
//   - above: 现价 >= 触发价 时触发 (多头止盈、空头止损)
//   - below: 现价 <= 触发价 时触发 (多头止损、空头止盈)
//
// 价格变化时只需要从集合一端扫到现价，不用遍历全部仓位
//
// 【面试】为什么按 (vamm, trader) 整体替换而不是增量改?
// 一笔交易可能同时改仓位方向和止盈止损，整体替换不需要知道旧值

package keeper

import (
	"context"
	"sync"

	"github.com/google/btree"

	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
)

// TriggerKind 止盈或止损
type TriggerKind string

const (
	TakeProfit TriggerKind = "take_profit"
	StopLoss   TriggerKind = "stop_loss"
)

// Trigger 一个触发条件
type Trigger struct {
	Vamm   string
	Trader string
	Kind   TriggerKind
	Side   engine.Side // 持仓方向
	Price  fixed.Uint
}

// Above 现价向上穿过时触发
func (t Trigger) Above() bool {
	return (t.Side == engine.Buy) == (t.Kind == TakeProfit)
}

// Fires 现价是否满足触发条件
func (t Trigger) Fires(spot fixed.Uint) bool {
	if t.Above() {
		return spot.Gte(t.Price)
	}
	return spot.Lte(t.Price)
}

// TriggersOf 从仓位提取触发条件，没有仓位或未设置时为空
func TriggersOf(p engine.Position) []Trigger {
	if p.Size.IsZero() {
		return nil
	}
	var out []Trigger
	if p.TakeProfit != nil {
		out = append(out, Trigger{Vamm: p.Vamm, Trader: p.Trader, Kind: TakeProfit, Side: p.Side(), Price: *p.TakeProfit})
	}
	if p.StopLoss != nil {
		out = append(out, Trigger{Vamm: p.Vamm, Trader: p.Trader, Kind: StopLoss, Side: p.Side(), Price: *p.StopLoss})
	}
	return out
}

// TriggerIndex 触发价索引
type TriggerIndex interface {
	// Replace 覆盖 (vamm, trader) 的全部触发条件，triggers 为空即删除
	Replace(ctx context.Context, vamm, trader string, triggers []Trigger) error
	// Due 现价下已经满足条件的触发，同一个交易者可能出现两次
	Due(ctx context.Context, vamm string, spot fixed.Uint) ([]Trigger, error)
	// Clear 删除一个 vAMM 的全部条件
	Clear(ctx context.Context, vamm string) error
}

// =============================================================================
// 内存实现 (google/btree)
// =============================================================================

const btreeDegree = 32

func triggerLess(a, b Trigger) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if a.Trader != b.Trader {
		return a.Trader < b.Trader
	}
	return a.Kind < b.Kind
}

type vammTriggers struct {
	above *btree.BTreeG[Trigger]
	below *btree.BTreeG[Trigger]
}

// BTreeIndex 单进程用的有序索引
type BTreeIndex struct {
	mu     sync.RWMutex
	vamms  map[string]*vammTriggers
	byPair map[string][]Trigger
}

var _ TriggerIndex = (*BTreeIndex)(nil)

func NewBTreeIndex() *BTreeIndex {
	return &BTreeIndex{
		vamms:  make(map[string]*vammTriggers),
		byPair: make(map[string][]Trigger),
	}
}

func (x *BTreeIndex) trees(vamm string) *vammTriggers {
	t, ok := x.vamms[vamm]
	if !ok {
		t = &vammTriggers{
			above: btree.NewG(btreeDegree, triggerLess),
			below: btree.NewG(btreeDegree, triggerLess),
		}
		x.vamms[vamm] = t
	}
	return t
}

func (t *vammTriggers) tree(tr Trigger) *btree.BTreeG[Trigger] {
	if tr.Above() {
		return t.above
	}
	return t.below
}

func (x *BTreeIndex) Replace(_ context.Context, vamm, trader string, triggers []Trigger) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	key := vamm + "/" + trader
	t := x.trees(vamm)
	for _, old := range x.byPair[key] {
		t.tree(old).Delete(old)
	}
	delete(x.byPair, key)
	for _, tr := range triggers {
		t.tree(tr).ReplaceOrInsert(tr)
	}
	if len(triggers) > 0 {
		x.byPair[key] = append([]Trigger(nil), triggers...)
	}
	return nil
}

func (x *BTreeIndex) Due(_ context.Context, vamm string, spot fixed.Uint) ([]Trigger, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	t, ok := x.vamms[vamm]
	if !ok {
		return nil, nil
	}
	var out []Trigger
	// above 升序扫到现价为止
	t.above.Ascend(func(tr Trigger) bool {
		if tr.Price.Gt(spot) {
			return false
		}
		out = append(out, tr)
		return true
	})
	// below 降序扫到现价为止
	t.below.Descend(func(tr Trigger) bool {
		if tr.Price.Lt(spot) {
			return false
		}
		out = append(out, tr)
		return true
	})
	return out, nil
}

func (x *BTreeIndex) Clear(_ context.Context, vamm string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vamms, vamm)
	for k, list := range x.byPair {
		if len(list) > 0 && list[0].Vamm == vamm {
			delete(x.byPair, k)
		}
	}
	return nil
}

// Len 条件总数
func (x *BTreeIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, t := range x.vamms {
		n += t.above.Len() + t.below.Len()
	}
	return n
}
