// 文件: pkg/keeper/index.go
// 风险等级索引
//
// 【设计】Copy-on-Write
// - 读: 原子加载 map 指针，完全无锁
// - 写: 加锁复制一份新 map，改完原子替换
// 检查循环每秒读很多次，全量扫描几秒才写一次，读多写少正合适
//
// 只保存 Warning / Danger / Critical 三级；Safe 不需要盯，Liquidate 直接进执行队列

package keeper

import (
	"sync"
	"sync/atomic"
)

// CowMap Copy-on-Write map，key 是 vamm/trader
type CowMap struct {
	data    atomic.Pointer[map[string]PositionRisk]
	writeMu sync.Mutex
}

func NewCowMap() *CowMap {
	m := &CowMap{}
	empty := make(map[string]PositionRisk)
	m.data.Store(&empty)
	return m
}

func (m *CowMap) Get(key string) (PositionRisk, bool) {
	r, ok := (*m.data.Load())[key]
	return r, ok
}

// GetAll 调用时刻的快照
func (m *CowMap) GetAll() []PositionRisk {
	cur := *m.data.Load()
	out := make([]PositionRisk, 0, len(cur))
	for _, v := range cur {
		out = append(out, v)
	}
	return out
}

func (m *CowMap) Len() int { return len(*m.data.Load()) }

// BatchUpdate 先删后写，一次替换
func (m *CowMap) BatchUpdate(updates []PositionRisk, removes []string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	old := *m.data.Load()
	next := make(map[string]PositionRisk, len(old)+len(updates))
	for k, v := range old {
		next[k] = v
	}
	for _, k := range removes {
		delete(next, k)
	}
	for _, r := range updates {
		next[r.Key()] = r
	}
	m.data.Store(&next)
}

// =============================================================================
// RiskIndex
// =============================================================================

// RiskIndex 按等级分桶的仓位索引
type RiskIndex struct {
	levels [3]*CowMap
}

func NewRiskIndex() *RiskIndex {
	return &RiskIndex{levels: [3]*CowMap{NewCowMap(), NewCowMap(), NewCowMap()}}
}

func levelToIndex(level RiskLevel) int {
	switch level {
	case RiskLevelWarning:
		return 0
	case RiskLevelDanger:
		return 1
	case RiskLevelCritical:
		return 2
	default:
		return -1
	}
}

func (idx *RiskIndex) GetByLevel(level RiskLevel) []PositionRisk {
	i := levelToIndex(level)
	if i < 0 {
		return nil
	}
	return idx.levels[i].GetAll()
}

// Get 在三级里查找
func (idx *RiskIndex) Get(key string) (PositionRisk, bool) {
	for _, l := range idx.levels {
		if r, ok := l.Get(key); ok {
			return r, true
		}
	}
	return PositionRisk{}, false
}

// Update 单个仓位重新分级
func (idx *RiskIndex) Update(r PositionRisk) {
	target := levelToIndex(r.Level)
	for i, l := range idx.levels {
		if i == target {
			continue
		}
		if _, ok := l.Get(r.Key()); ok {
			l.BatchUpdate(nil, []string{r.Key()})
		}
	}
	if target >= 0 {
		idx.levels[target].BatchUpdate([]PositionRisk{r}, nil)
	}
}

// Replace 全量扫描后整体替换三级内容
func (idx *RiskIndex) Replace(all []PositionRisk) {
	buckets := [3][]PositionRisk{}
	for _, r := range all {
		if i := levelToIndex(r.Level); i >= 0 {
			buckets[i] = append(buckets[i], r)
		}
	}
	for i, l := range idx.levels {
		keep := make(map[string]struct{}, len(buckets[i]))
		for _, r := range buckets[i] {
			keep[r.Key()] = struct{}{}
		}
		var removes []string
		for _, r := range l.GetAll() {
			if _, ok := keep[r.Key()]; !ok {
				removes = append(removes, r.Key())
			}
		}
		l.BatchUpdate(buckets[i], removes)
	}
}

// TotalCount 三级合计
func (idx *RiskIndex) TotalCount() int {
	total := 0
	for _, l := range idx.levels {
		total += l.Len()
	}
	return total
}
