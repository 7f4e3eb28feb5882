// 文件: pkg/kafka/sink.go
// 交易事件 → Kafka
//
// 【设计】
// - 每笔提交的交易一条消息，value 是 chain.TxResult 的 JSON
// - key 用交易的目标合约，同一合约的交易落在同一分区，消费端按顺序回放
// - 发送是异步的，Publish 只在本地入队失败时报错

package kafka

import (
	"encoding/json"

	"vperp.com/pkg/chain"
)

const DefaultTopic = "vperp-events"

var _ chain.EventSink = (*Sink)(nil)

// TxEventMessage 实现 Message
type TxEventMessage struct {
	topic string
	Tx    chain.TxResult
}

func NewTxEventMessage(topic string, tx chain.TxResult) *TxEventMessage {
	if topic == "" {
		topic = DefaultTopic
	}
	return &TxEventMessage{topic: topic, Tx: tx}
}

func (m *TxEventMessage) Topic() string { return m.topic }
func (m *TxEventMessage) Key() string   { return m.Tx.Contract }

func (m *TxEventMessage) Value() ([]byte, error) {
	return json.Marshal(m.Tx)
}

// Sink 挂到 chain.App 上的事件出口
type Sink struct {
	producer *Producer
	topic    string
}

func NewSink(producer *Producer, topic string) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Sink{producer: producer, topic: topic}
}

// Publish 实现 chain.EventSink
func (s *Sink) Publish(tx chain.TxResult) error {
	return s.producer.Send(NewTxEventMessage(s.topic, tx))
}

// Close 关闭底层生产者
func (s *Sink) Close() error {
	return s.producer.Close()
}
