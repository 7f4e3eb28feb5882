// 文件: pkg/nats/subscriber.go
// NATS 交易订阅者: 把 {prefix}.tx.> 上的交易交给 EventSink (通常是索引器)

package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
)

// MessageHandler 消息处理函数
type MessageHandler func(subject string, data []byte) error

// subConn 订阅用到的连接方法，*nats.Conn 实现它，测试里可以替换
type subConn interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    subConn
	subs    []*nats.Subscription
	handler MessageHandler
	logger  *zap.Logger
}

// NewSubscriber 创建订阅者
func NewSubscriber(url string, handler MessageHandler, logger *zap.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(url, nats.Name("vperp-subscriber"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return newSubscriber(conn, handler, logger), nil
}

func newSubscriber(c subConn, handler MessageHandler, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		conn:    c,
		handler: handler,
		logger:  logger.Named("nats"),
	}
}

// Listen queue 为空时普通订阅，否则加入队列组
func (s *Subscriber) Listen(subject, queue string) error {
	if queue == "" {
		return s.Subscribe(subject)
	}
	return s.SubscribeQueue(subject, queue)
}

// Subscribe 订阅主题，每个实例都收到全部消息
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.onMsg)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅 (多个索引器实例负载均衡，每笔交易只被一个实例处理)
func (s *Subscriber) SubscribeQueue(subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, s.onMsg)
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) onMsg(msg *nats.Msg) {
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		s.logger.Warn("[NATS] handle error", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Close 关闭
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("[NATS] unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	s.conn.Close()
	return nil
}

// =============================================================================
// 便捷方法
// =============================================================================

// TxHandler 解码交易后交给 sink
func TxHandler(sink chain.EventSink) MessageHandler {
	return func(subject string, data []byte) error {
		tx, err := UnmarshalJSON[chain.TxResult](data)
		if err != nil {
			return fmt.Errorf("decode tx on %s: %w", subject, err)
		}
		return sink.Publish(*tx)
	}
}

// UnmarshalJSON 反序列化 JSON
func UnmarshalJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
