// 文件: pkg/nats/publisher.go
// NATS 事件发布者
// 轻量级替代 Kafka，适合本地开发
//
// 【主题】
// - {prefix}.tx.{contract}     整笔交易 (chain.TxResult)，索引器订阅这个
// - {prefix}.events.{action}   单个带 action 的事件，前端/告警按需订阅
//
// 地址里的 '.' 和空白会替换成 '_'，避免被当成主题分隔符

package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
)

var _ chain.EventSink = (*Publisher)(nil)

// conn 只用到发布，测试里可以替换
type conn interface {
	Publish(subject string, data []byte) error
}

// EventMessage 单个事件
type EventMessage struct {
	Seq        uint64            `json:"seq"`
	Height     uint64            `json:"height"`
	Time       uint64            `json:"time"`
	Contract   string            `json:"contract"`
	Type       string            `json:"type"`
	Action     string            `json:"action"`
	Attributes []chain.Attribute `json:"attributes"`
}

// Publisher NATS 发布者
type Publisher struct {
	conn   conn
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewPublisher 创建发布者
func NewPublisher(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("vperp-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p := newPublisher(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "vperp"
	}
	return &Publisher{conn: c, prefix: prefix, logger: logger.Named("nats")}
}

// Publish 实现 chain.EventSink
func (p *Publisher) Publish(tx chain.TxResult) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(TxSubject(p.prefix, tx.Contract), data); err != nil {
		return fmt.Errorf("publish tx %d: %w", tx.Seq, err)
	}

	for _, ev := range tx.Events {
		action, ok := ev.Get("action")
		if !ok {
			continue
		}
		contract, _ := ev.Get("_contract_address")
		msg := EventMessage{
			Seq:        tx.Seq,
			Height:     tx.Height,
			Time:       tx.Time,
			Contract:   contract,
			Type:       ev.Type,
			Action:     action,
			Attributes: ev.Attributes,
		}
		if err := p.PublishJSON(EventSubject(p.prefix, action), msg); err != nil {
			// 单个事件失败不影响整笔交易已发出
			p.logger.Warn("[NATS] publish event failed",
				zap.Uint64("seq", tx.Seq), zap.String("action", action), zap.Error(err))
		}
	}
	return nil
}

// PublishJSON 发布任意 JSON 消息
func (p *Publisher) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

// Close 先 flush 再关闭
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("[NATS] flush failed", zap.Error(err))
	}
	p.nc.Close()
}

// =============================================================================
// 主题
// =============================================================================

func TxSubject(prefix, contract string) string {
	return prefix + ".tx." + token(contract)
}

func EventSubject(prefix, action string) string {
	return prefix + ".events." + token(action)
}

// AllTxSubject 订阅全部交易
func AllTxSubject(prefix string) string {
	return prefix + ".tx.>"
}

func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '\n', '*', '>':
			return '_'
		}
		return r
	}, s)
}
