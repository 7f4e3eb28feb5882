// 文件: pkg/nats/nats_test.go

package nats

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/chain"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	fail map[string]bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.fail[subject] {
		return errors.New("nats: connection closed")
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

type recordingSink struct{ txs []chain.TxResult }

func (r *recordingSink) Publish(tx chain.TxResult) error {
	r.txs = append(r.txs, tx)
	return nil
}

func sampleTx() chain.TxResult {
	return chain.TxResult{
		Seq: 7, Height: 3, Time: 1_700_000_010, Sender: "alice", Contract: "engine",
		Events: []chain.Event{
			{Type: "wasm", Attributes: []chain.Attribute{{Key: "_contract_address", Value: "engine"}, {Key: "action", Value: "open_position"}}},
			{Type: "wasm", Attributes: []chain.Attribute{{Key: "_contract_address", Value: "vamm.eth"}, {Key: "swap_direction", Value: "add"}}},
			{Type: "reply", Attributes: []chain.Attribute{{Key: "_contract_address", Value: "engine"}, {Key: "action", Value: "increase_position"}}},
		},
	}
}

func TestPublisherSubjects(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "", nil)
	require.NoError(t, p.Publish(sampleTx()))

	subjects := []string{}
	for _, m := range c.msgs {
		subjects = append(subjects, m.subject)
	}
	// 没有 action 的 vAMM 事件不单独发
	assert.Equal(t, []string{"vperp.tx.engine", "vperp.events.open_position", "vperp.events.increase_position"}, subjects)

	ev, err := UnmarshalJSON[EventMessage](c.msgs[2].data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ev.Seq)
	assert.Equal(t, "engine", ev.Contract)
	assert.Equal(t, "reply", ev.Type)
}

func TestPublisherTxFailureIsReturned(t *testing.T) {
	c := &fakeConn{fail: map[string]bool{"vperp.tx.engine": true}}
	p := newPublisher(c, "vperp", nil)
	require.Error(t, p.Publish(sampleTx()))
	assert.Empty(t, c.msgs)
}

func TestPublisherEventFailureIsLogged(t *testing.T) {
	c := &fakeConn{fail: map[string]bool{"vperp.events.open_position": true}}
	p := newPublisher(c, "vperp", nil)
	require.NoError(t, p.Publish(sampleTx()))
	assert.Len(t, c.msgs, 2)
}

func TestTxRoundTripIntoSink(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "sim", nil)
	tx := sampleTx()
	require.NoError(t, p.Publish(tx))

	sink := &recordingSink{}
	handle := TxHandler(sink)
	require.NoError(t, handle(c.msgs[0].subject, c.msgs[0].data))
	require.Len(t, sink.txs, 1)
	assert.Equal(t, tx, sink.txs[0])

	require.Error(t, handle("sim.tx.engine", []byte("{")))
}

func TestSubjectTokens(t *testing.T) {
	assert.Equal(t, "vperp.tx.vamm_eth", TxSubject("vperp", "vamm.eth"))
	assert.Equal(t, "vperp.events.pay_funding_reply", EventSubject("vperp", "pay_funding_reply"))
	assert.Equal(t, "vperp.tx.>", AllTxSubject("vperp"))
	assert.Equal(t, "a_b_c", token("a*b>c"))
}

type subscription struct {
	subject string
	queue   string
	cb      nats.MsgHandler
}

type fakeSubConn struct {
	subs []subscription
}

func (f *fakeSubConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.subs = append(f.subs, subscription{subject: subject, cb: cb})
	return &nats.Subscription{Subject: subject}, nil
}

func (f *fakeSubConn) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.subs = append(f.subs, subscription{subject: subject, queue: queue, cb: cb})
	return &nats.Subscription{Subject: subject, Queue: queue}, nil
}

func (f *fakeSubConn) Close() {}

func TestSubscriberListen(t *testing.T) {
	tests := []struct {
		name  string
		queue string
	}{
		{"broadcast", ""},
		{"queue group", "indexers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeSubConn{}
			sink := &recordingSink{}
			s := newSubscriber(c, TxHandler(sink), nil)
			require.NoError(t, s.Listen(AllTxSubject("vperp"), tt.queue))

			require.Len(t, c.subs, 1)
			assert.Equal(t, "vperp.tx.>", c.subs[0].subject)
			assert.Equal(t, tt.queue, c.subs[0].queue)

			// 收到的交易交给 sink
			pc := &fakeConn{}
			require.NoError(t, newPublisher(pc, "vperp", nil).Publish(sampleTx()))
			c.subs[0].cb(&nats.Msg{Subject: pc.msgs[0].subject, Data: pc.msgs[0].data})
			require.Len(t, sink.txs, 1)
			assert.Equal(t, uint64(7), sink.txs[0].Seq)

			// 解码失败只记日志
			c.subs[0].cb(&nats.Msg{Subject: "vperp.tx.engine", Data: []byte("{")})
			assert.Len(t, sink.txs, 1)
		})
	}
}
