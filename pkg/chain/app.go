// 文件: pkg/chain/app.go
// 进程内宿主: 合约注册、消息分发、子消息 / Reply 循环、原子提交
//
// 【执行模型】
//  1. Execute 在根存储上开一个 CacheStore (整笔交易的事务)
//  2. 合约返回的子消息深度优先执行，每个子消息再开一层 CacheStore
//  3. 子消息成功: 子层提交到父层；失败: 子层丢弃
//  4. 按 ReplyOn 决定是否回调发起方的 Reply
//  5. 任何未被 Reply 接住的错误都会让整笔交易回滚
//
// 【面试】为什么每个子消息一层缓存?
// ReplyError 语义要求"子调用失败只回滚子调用"，发起方自己的写入要保留

package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vperp.com/pkg/fixed"
	"vperp.com/pkg/metrics"
	"vperp.com/pkg/storage"
)

const (
	contractPrefix  = "contract/"
	defaultMaxDepth = 10
)

// TxResult 已提交交易
type TxResult struct {
	Seq      uint64  `json:"seq"`
	Height   uint64  `json:"height"`
	Time     uint64  `json:"time"`
	Sender   string  `json:"sender"`
	Contract string  `json:"contract"`
	Events   []Event `json:"events"`
	Data     []byte  `json:"data,omitempty"`
}

// EventSink 已提交交易的下游 (NATS / Kafka / 索引器)
type EventSink interface {
	Publish(tx TxResult) error
}

// App 宿主
type App struct {
	mu        sync.RWMutex
	store     storage.KVStore
	contracts map[string]Contract
	block     BlockInfo
	seq       uint64
	maxDepth  int
	logger    *zap.Logger
	sinks     []namedSink
}

type namedSink struct {
	name string
	sink EventSink
}

// Option App 配置项
type Option func(*App)

func WithLogger(l *zap.Logger) Option { return func(a *App) { a.logger = l } }

func WithBlock(b BlockInfo) Option { return func(a *App) { a.block = b } }

func WithMaxDepth(n int) Option { return func(a *App) { a.maxDepth = n } }

// NewApp 创建宿主
func NewApp(store storage.KVStore, opts ...Option) *App {
	a := &App{
		store:     store,
		contracts: make(map[string]Contract),
		block:     BlockInfo{Height: 1, Time: uint64(time.Now().Unix())},
		maxDepth:  defaultMaxDepth,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddSink 注册事件下游
func (a *App) AddSink(name string, s EventSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, namedSink{name: name, sink: s})
}

// =============================================================================
// 区块
// =============================================================================

func (a *App) Block() BlockInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.block
}

// NextBlock 出一个新块，时间前进 seconds 秒
func (a *App) NextBlock(seconds uint64) BlockInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.block.Height++
	a.block.Time += seconds
	return a.block
}

func (a *App) SetBlock(b BlockInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.block = b
}

// =============================================================================
// 合约注册
// =============================================================================

// Register 只注册合约代码 (重启后挂回已有状态时使用)
func (a *App) Register(addr string, c Contract) error {
	if err := ValidateAddress(addr); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrContractExists, addr)
	}
	a.contracts[addr] = c
	return nil
}

// Instantiate 注册并初始化合约
func (a *App) Instantiate(sender, addr string, c Contract, msg any, funds ...Coin) (*TxResult, error) {
	if err := a.Register(addr, c); err != nil {
		return nil, err
	}
	res, err := a.runTx(sender, addr, func(store storage.KVStore) ([]Event, []byte, error) {
		if err := bankSend(store, sender, addr, funds); err != nil {
			return nil, nil, err
		}
		resp, err := c.Instantiate(a.context(store, addr), MessageInfo{Sender: sender, Funds: funds}, msg)
		if err != nil {
			return nil, nil, err
		}
		return a.handleResponse(store, 0, addr, "instantiate", resp)
	})
	if err != nil {
		a.mu.Lock()
		delete(a.contracts, addr)
		a.mu.Unlock()
		return nil, err
	}
	return res, nil
}

// =============================================================================
// 执行 / 查询
// =============================================================================

// Execute 执行一笔交易 (原子)
func (a *App) Execute(sender, contract string, msg any, funds ...Coin) (*TxResult, error) {
	return a.runTx(sender, contract, func(store storage.KVStore) ([]Event, []byte, error) {
		return a.execute(store, 0, sender, ExecuteMsg{Contract: contract, Msg: msg, Funds: funds})
	})
}

// Query 只读查询
func (a *App) Query(contract string, req any) (any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.query(a.store, contract, req)
}

// QueryAs 类型化查询
func QueryAs[T any](a *App, contract string, req any) (T, error) {
	var zero T
	res, err := a.Query(contract, req)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T from %s", ErrUnexpectedResponse, res, contract)
	}
	return v, nil
}

// Balance 原生币余额
func (a *App) Balance(addr, denom string) (fixed.Uint, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return bankBalance(a.store, addr, denom)
}

// Mint 直接给地址发原生币 (创世 / 测试)
func (a *App) Mint(addr string, coins ...Coin) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bankMint(a.store, addr, coins)
}

func (a *App) runTx(sender, contract string, fn func(store storage.KVStore) ([]Event, []byte, error)) (*TxResult, error) {
	start := time.Now()

	a.mu.Lock()
	cache := storage.NewCacheStore(a.store)
	events, data, err := fn(cache)
	if err == nil {
		err = cache.Write()
	} else {
		cache.Discard()
	}
	var res TxResult
	if err == nil {
		a.seq++
		res = TxResult{
			Seq:      a.seq,
			Height:   a.block.Height,
			Time:     a.block.Time,
			Sender:   sender,
			Contract: contract,
			Events:   events,
			Data:     data,
		}
	}
	sinks := a.sinks
	a.mu.Unlock()

	metrics.TxDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TxTotal.WithLabelValues("failed").Inc()
		a.logger.Debug("tx failed",
			zap.String("sender", sender),
			zap.String("contract", contract),
			zap.Error(err))
		return nil, err
	}
	metrics.TxTotal.WithLabelValues("ok").Inc()

	// 下游失败不影响已提交的交易
	for _, s := range sinks {
		if perr := s.sink.Publish(res); perr != nil {
			metrics.EventsPublished.WithLabelValues(s.name, "error").Inc()
			a.logger.Warn("publish tx failed", zap.String("sink", s.name), zap.Uint64("seq", res.Seq), zap.Error(perr))
			continue
		}
		metrics.EventsPublished.WithLabelValues(s.name, "ok").Inc()
	}
	return &res, nil
}

func (a *App) context(store storage.KVStore, addr string) Context {
	return Context{
		Env:     Env{Block: a.block, Contract: addr},
		Store:   storage.NewPrefixStore(store, []byte(contractPrefix+addr+"/")),
		Querier: &querier{app: a, store: store},
		Logger:  a.logger.With(zap.String("contract", addr)),
	}
}

func (a *App) lookup(addr string) (Contract, error) {
	c, ok := a.contracts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, addr)
	}
	return c, nil
}

func (a *App) execute(store storage.KVStore, depth int, sender string, m ExecuteMsg) ([]Event, []byte, error) {
	if depth > a.maxDepth {
		return nil, nil, ErrMaxCallDepth
	}
	c, err := a.lookup(m.Contract)
	if err != nil {
		return nil, nil, err
	}
	if err := bankSend(store, sender, m.Contract, m.Funds); err != nil {
		return nil, nil, err
	}
	res, err := c.Execute(a.context(store, m.Contract), MessageInfo{Sender: sender, Funds: m.Funds}, m.Msg)
	if err != nil {
		return nil, nil, err
	}
	return a.handleResponse(store, depth, m.Contract, "wasm", res)
}

func (a *App) handleResponse(store storage.KVStore, depth int, contract, evType string, res *Response) ([]Event, []byte, error) {
	if res == nil {
		res = NewResponse()
	}
	attrs := make([]Attribute, 0, len(res.Attributes)+1)
	attrs = append(attrs, Attribute{Key: "_contract_address", Value: contract})
	attrs = append(attrs, res.Attributes...)
	events := []Event{{Type: evType, Attributes: attrs}}
	for _, ev := range res.Events {
		custom := Event{Type: ev.Type, Attributes: append([]Attribute{{Key: "_contract_address", Value: contract}}, ev.Attributes...)}
		events = append(events, custom)
	}

	data := res.Data
	for _, sub := range res.Messages {
		subEvents, subData, err := a.runSubMsg(store, depth, contract, sub)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, subEvents...)
		if subData != nil {
			data = subData
		}
	}
	return events, data, nil
}

func (a *App) runSubMsg(store storage.KVStore, depth int, caller string, sub SubMsg) ([]Event, []byte, error) {
	child := storage.NewCacheStore(store)
	events, data, err := a.dispatch(child, depth+1, caller, sub.Msg)
	if err == nil {
		if werr := child.Write(); werr != nil {
			return nil, nil, werr
		}
	} else {
		child.Discard()
	}

	switch {
	case err != nil && (sub.ReplyOn == ReplyError || sub.ReplyOn == ReplyAlways):
		return a.reply(store, depth, caller, Reply{ID: sub.ID, Result: SubMsgResult{Err: err}})
	case err != nil:
		return nil, nil, err
	case sub.ReplyOn == ReplySuccess || sub.ReplyOn == ReplyAlways:
		replyEvents, replyData, rerr := a.reply(store, depth, caller, Reply{ID: sub.ID, Result: SubMsgResult{Events: events, Data: data}})
		if rerr != nil {
			return nil, nil, rerr
		}
		if replyData != nil {
			data = replyData
		}
		return append(events, replyEvents...), data, nil
	default:
		return events, data, nil
	}
}

func (a *App) dispatch(store storage.KVStore, depth int, caller string, msg Msg) ([]Event, []byte, error) {
	switch m := msg.(type) {
	case ExecuteMsg:
		return a.execute(store, depth, caller, m)
	case BankSend:
		if err := bankSend(store, caller, m.To, m.Amount); err != nil {
			return nil, nil, err
		}
		return []Event{{Type: "transfer", Attributes: []Attribute{
			{Key: "recipient", Value: m.To},
			{Key: "sender", Value: caller},
			{Key: "amount", Value: coinsString(m.Amount)},
		}}}, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func (a *App) reply(store storage.KVStore, depth int, contract string, r Reply) ([]Event, []byte, error) {
	c, err := a.lookup(contract)
	if err != nil {
		return nil, nil, err
	}
	replier, ok := c.(Replier)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoReplyHandler, contract)
	}
	res, err := replier.Reply(a.context(store, contract), r)
	if err != nil {
		return nil, nil, err
	}
	return a.handleResponse(store, depth, contract, "reply", res)
}

func (a *App) query(store storage.KVStore, contract string, req any) (any, error) {
	c, err := a.lookup(contract)
	if err != nil {
		return nil, err
	}
	// 查询在丢弃型缓存上执行，合约即使误写也不会落盘
	view := storage.NewCacheStore(store)
	defer view.Discard()
	return c.Query(a.context(view, contract), req)
}

// querier 绑定当前交易存储的查询器，执行中的合约看到的是未提交的最新状态
type querier struct {
	app   *App
	store storage.KVStore
}

func (q *querier) QueryContract(addr string, req any) (any, error) {
	return q.app.query(q.store, addr, req)
}

func (q *querier) QueryBalance(addr, denom string) (fixed.Uint, error) {
	return bankBalance(q.store, addr, denom)
}

// IsNotFound 合约或 key 不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound) || errors.Is(err, storage.ErrNotFound)
}
