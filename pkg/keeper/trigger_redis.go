// 文件: pkg/keeper/trigger_redis.go
// 止盈止损索引的 Redis 实现，多个 watcher 实例共享
//
// 【Key 设计】
//   - vperp:tpsl:{vamm}:above  ZSET  score=触发价  member=trader|kind
//   - vperp:tpsl:{vamm}:below  ZSET  同上
//
// member 里带 kind，集合本身区分 above/below，查询时不需要反序列化就能还原持仓方向
//
// 【注意】score 是 float64，极端精度下可能提前或推迟一点点触发；
// 引擎执行 TriggerTpSl 时会按定点数重新校验，提前的会被拒绝

package keeper

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
)

const redisBatchSize = 100

// RedisIndex ZSET 实现
type RedisIndex struct {
	client *redis.Client
	prefix string
}

var _ TriggerIndex = (*RedisIndex)(nil)

func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "vperp:tpsl"
	}
	return &RedisIndex{client: client, prefix: prefix}
}

func (x *RedisIndex) key(vamm string, above bool) string {
	if above {
		return x.prefix + ":" + vamm + ":above"
	}
	return x.prefix + ":" + vamm + ":below"
}

func member(trader string, kind TriggerKind) string {
	return trader + "|" + string(kind)
}

// Replace MULTI/EXEC 里先删两种 member 再写新的
func (x *RedisIndex) Replace(ctx context.Context, vamm, trader string, triggers []Trigger) error {
	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		olds := []any{member(trader, TakeProfit), member(trader, StopLoss)}
		pipe.ZRem(ctx, x.key(vamm, true), olds...)
		pipe.ZRem(ctx, x.key(vamm, false), olds...)
		for _, tr := range triggers {
			pipe.ZAdd(ctx, x.key(vamm, tr.Above()), redis.Z{
				Score:  tr.Price.Float64(),
				Member: member(trader, tr.Kind),
			})
		}
		return nil
	})
	return err
}

func (x *RedisIndex) Due(ctx context.Context, vamm string, spot fixed.Uint) ([]Trigger, error) {
	price := strconv.FormatFloat(spot.Float64(), 'f', -1, 64)
	above, err := x.scan(ctx, vamm, true, "-inf", price)
	if err != nil {
		return nil, err
	}
	below, err := x.scan(ctx, vamm, false, price, "+inf")
	if err != nil {
		return nil, err
	}
	return append(above, below...), nil
}

func (x *RedisIndex) scan(ctx context.Context, vamm string, above bool, min, max string) ([]Trigger, error) {
	var out []Trigger
	for offset := int64(0); ; offset += redisBatchSize {
		zs, err := x.client.ZRangeByScoreWithScores(ctx, x.key(vamm, above), &redis.ZRangeBy{
			Min:    min,
			Max:    max,
			Offset: offset,
			Count:  redisBatchSize,
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, z := range zs {
			m, _ := z.Member.(string)
			i := strings.LastIndexByte(m, '|')
			if i < 0 {
				continue
			}
			tr := Trigger{Vamm: vamm, Trader: m[:i], Kind: TriggerKind(m[i+1:])}
			tr.Side = sideFor(above, tr.Kind)
			if p, err := fixed.FromDecimal(decimal.NewFromFloat(z.Score), 0); err == nil {
				tr.Price = p
			}
			out = append(out, tr)
		}
		if len(zs) < redisBatchSize {
			return out, nil
		}
	}
}

// sideFor Above 的逆运算
func sideFor(above bool, kind TriggerKind) engine.Side {
	if above == (kind == TakeProfit) {
		return engine.Buy
	}
	return engine.Sell
}

func (x *RedisIndex) Clear(ctx context.Context, vamm string) error {
	return x.client.Del(ctx, x.key(vamm, true), x.key(vamm, false)).Err()
}
