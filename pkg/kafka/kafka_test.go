// 文件: pkg/kafka/kafka_test.go

package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
)

func sampleTx(seq uint64) chain.TxResult {
	return chain.TxResult{
		Seq: seq, Height: 2, Time: 1_700_000_005, Sender: "bob", Contract: "engine",
		Events: []chain.Event{
			{Type: "reply", Attributes: []chain.Attribute{{Key: "_contract_address", Value: "engine"}, {Key: "action", Value: "close_position"}}},
		},
	}
}

func newMockProducer(t *testing.T) (*mocks.AsyncProducer, *Producer) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Errors = true
	mp := mocks.NewAsyncProducer(t, cfg)
	return mp, newProducer(mp, DefaultProducerConfig(nil), nil)
}

func TestSinkSendsTxAsJSON(t *testing.T) {
	mp, p := newMockProducer(t)
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var tx chain.TxResult
		if err := json.Unmarshal(val, &tx); err != nil {
			return err
		}
		if tx.Seq != 11 || tx.Contract != "engine" {
			return errors.New("unexpected tx")
		}
		return nil
	})

	sink := NewSink(p, "")
	require.NoError(t, sink.Publish(sampleTx(11)))
	require.NoError(t, sink.Close())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.SentCount)
	assert.Zero(t, stats.ErrorCount)
}

func TestProducerCountsAsyncErrors(t *testing.T) {
	mp, p := newMockProducer(t)
	mp.ExpectInputAndSucceed()
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	require.NoError(t, p.SendRaw("t", "k", []byte("a")))
	require.NoError(t, p.SendRaw("t", "k", []byte("b")))
	require.NoError(t, p.Close())

	// Close 等错误处理协程退出后统计是最终值
	assert.Equal(t, ProducerStats{SentCount: 2, ErrorCount: 1}, p.Stats())
}

func TestProducerRejectsAfterClose(t *testing.T) {
	_, p := newMockProducer(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Send(NewTxEventMessage("", sampleTx(1))), ErrProducerClosed)
}

func TestTxEventMessage(t *testing.T) {
	m := NewTxEventMessage("", sampleTx(3))
	assert.Equal(t, DefaultTopic, m.Topic())
	assert.Equal(t, "engine", m.Key())

	m = NewTxEventMessage("custom", sampleTx(3))
	assert.Equal(t, "custom", m.Topic())
}

// =============================================================================
// 消费端
// =============================================================================

type recordingSink struct{ txs []chain.TxResult }

func (r *recordingSink) Publish(tx chain.TxResult) error {
	r.txs = append(r.txs, tx)
	return nil
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func TestConsumeClaimFeedsSink(t *testing.T) {
	sink := &recordingSink{}
	h := &consumerGroupHandler{handler: TxHandler(sink), logger: zap.NewNop()}

	good, err := NewTxEventMessage("", sampleTx(5)).Value()
	require.NoError(t, err)

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 3)}
	claim.ch <- &sarama.ConsumerMessage{Topic: DefaultTopic, Offset: 0, Value: good}
	claim.ch <- &sarama.ConsumerMessage{Topic: DefaultTopic, Offset: 1, Value: []byte("not json")}
	claim.ch <- &sarama.ConsumerMessage{Topic: DefaultTopic, Offset: 2, Value: good}
	close(claim.ch)

	session := &fakeSession{}
	require.NoError(t, h.ConsumeClaim(session, claim))

	// 坏消息跳过但同样提交
	assert.Equal(t, []int64{0, 1, 2}, session.marked)
	require.Len(t, sink.txs, 2)
	assert.Equal(t, sampleTx(5), sink.txs[0])
}
