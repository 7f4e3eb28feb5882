// 文件: pkg/chain/app_test.go
// 宿主执行模型测试: 原子提交、子消息回滚、Reply 语义

package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

// =============================================================================
// 测试合约
// =============================================================================

var errBoom = errors.New("boom")

type (
	incr      struct{}
	fail      struct{}
	callOther struct {
		Target  string
		Msg     any
		ReplyOn ReplyOn
	}
	getCount   struct{}
	lastReply  struct{}
	sendNative struct {
		To     string
		Amount fixed.Uint
	}
)

var (
	counterItem = storage.NewItem[uint64]("count")
	replyItem   = storage.NewItem[string]("last-reply")
)

type counter struct{}

func (counter) Instantiate(ctx Context, _ MessageInfo, _ any) (*Response, error) {
	return NewResponse().AddAttribute("action", "instantiate"), counterItem.Save(ctx.Store, 0)
}

func (counter) Execute(ctx Context, info MessageInfo, msg any) (*Response, error) {
	switch m := msg.(type) {
	case incr:
		n, err := counterItem.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		if err := counterItem.Save(ctx.Store, n+1); err != nil {
			return nil, err
		}
		return NewResponse().AddAttributes("action", "incr", "sender", info.Sender), nil
	case fail:
		// 先写再失败，验证回滚
		_ = counterItem.Save(ctx.Store, 999)
		return nil, errBoom
	case callOther:
		n, _ := counterItem.Load(ctx.Store)
		_ = counterItem.Save(ctx.Store, n+10)
		return NewResponse().AddSubMessage(SubMsg{
			ID:      7,
			Msg:     ExecuteMsg{Contract: m.Target, Msg: m.Msg},
			ReplyOn: m.ReplyOn,
		}), nil
	case sendNative:
		return NewResponse().AddMessage(BankSend{To: m.To, Amount: []Coin{NewCoin("uusd", m.Amount)}}), nil
	}
	return nil, ErrUnknownMessage
}

func (counter) Query(ctx Context, req any) (any, error) {
	switch req.(type) {
	case getCount:
		return counterItem.Load(ctx.Store)
	case lastReply:
		return replyItem.Load(ctx.Store)
	}
	return nil, ErrUnknownQuery
}

func (counter) Reply(ctx Context, r Reply) (*Response, error) {
	state := "ok"
	if r.Result.Err != nil {
		state = "err:" + r.Result.Err.Error()
	}
	if err := replyItem.Save(ctx.Store, state); err != nil {
		return nil, err
	}
	return NewResponse().AddAttribute("reply_state", state), nil
}

type recordingSink struct{ txs []TxResult }

func (s *recordingSink) Publish(tx TxResult) error {
	s.txs = append(s.txs, tx)
	return nil
}

func setupApp(t *testing.T) *App {
	app := NewApp(storage.NewMemStore())
	_, err := app.Instantiate("owner", "a", counter{}, nil)
	require.NoError(t, err)
	_, err = app.Instantiate("owner", "b", counter{}, nil)
	require.NoError(t, err)
	return app
}

func count(t *testing.T, app *App, addr string) uint64 {
	n, err := QueryAs[uint64](app, addr, getCount{})
	require.NoError(t, err)
	return n
}

// =============================================================================
// 测试用例
// =============================================================================

func TestExecuteCommits(t *testing.T) {
	app := setupApp(t)
	sink := &recordingSink{}
	app.AddSink("test", sink)

	res, err := app.Execute("alice", "a", incr{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count(t, app, "a"))

	v, ok := FindAttribute(res.Events, "a", "sender")
	require.True(t, ok)
	assert.Equal(t, "alice", v)
	require.Len(t, sink.txs, 1)
	assert.Equal(t, res.Seq, sink.txs[0].Seq)
}

func TestExecuteFailureRollsBack(t *testing.T) {
	app := setupApp(t)

	_, err := app.Execute("alice", "a", fail{})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, uint64(0), count(t, app, "a"))
}

func TestSubMessageFailureAbortsWithoutReply(t *testing.T) {
	app := setupApp(t)

	_, err := app.Execute("alice", "a", callOther{Target: "b", Msg: fail{}, ReplyOn: ReplySuccess})
	require.ErrorIs(t, err, errBoom)
	// 发起方自己的 +10 也被回滚
	assert.Equal(t, uint64(0), count(t, app, "a"))
	assert.Equal(t, uint64(0), count(t, app, "b"))
}

func TestReplyOnErrorKeepsCallerWrites(t *testing.T) {
	app := setupApp(t)

	_, err := app.Execute("alice", "a", callOther{Target: "b", Msg: fail{}, ReplyOn: ReplyError})
	require.NoError(t, err)

	assert.Equal(t, uint64(10), count(t, app, "a"))
	assert.Equal(t, uint64(0), count(t, app, "b"), "failed sub-call must not leak writes")

	state, err := QueryAs[string](app, "a", lastReply{})
	require.NoError(t, err)
	assert.Equal(t, "err:boom", state)
}

func TestReplyOnSuccess(t *testing.T) {
	app := setupApp(t)

	res, err := app.Execute("alice", "a", callOther{Target: "b", Msg: incr{}, ReplyOn: ReplySuccess})
	require.NoError(t, err)

	assert.Equal(t, uint64(10), count(t, app, "a"))
	assert.Equal(t, uint64(1), count(t, app, "b"))

	// 子调用的 sender 是发起合约
	v, ok := FindAttribute(res.Events, "b", "sender")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = FindAttribute(res.Events, "a", "reply_state")
	require.True(t, ok)
	assert.Equal(t, "ok", v)
}

func TestBankSendAndFunds(t *testing.T) {
	app := setupApp(t)
	require.NoError(t, app.Mint("alice", NewCoin("uusd", fixed.NewUint(100))))

	_, err := app.Execute("alice", "a", incr{}, NewCoin("uusd", fixed.NewUint(40)))
	require.NoError(t, err)

	bal, err := app.Balance("a", "uusd")
	require.NoError(t, err)
	assert.Equal(t, "40", bal.String())

	_, err = app.Execute("anyone", "a", sendNative{To: "bob", Amount: fixed.NewUint(15)})
	require.NoError(t, err)
	bal, _ = app.Balance("bob", "uusd")
	assert.Equal(t, "15", bal.String())

	_, err = app.Execute("anyone", "a", sendNative{To: "bob", Amount: fixed.NewUint(100)})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	bal, _ = app.Balance("a", "uusd")
	assert.Equal(t, "25", bal.String())
}

func TestUnknownContract(t *testing.T) {
	app := setupApp(t)
	_, err := app.Execute("alice", "nope", incr{})
	require.ErrorIs(t, err, ErrContractNotFound)
	assert.True(t, IsNotFound(err))

	_, err = app.Instantiate("owner", "a", counter{}, nil)
	require.ErrorIs(t, err, ErrContractExists)
}

func TestNextBlock(t *testing.T) {
	app := NewApp(storage.NewMemStore(), WithBlock(BlockInfo{Height: 10, Time: 1000}))
	b := app.NextBlock(5)
	assert.Equal(t, uint64(11), b.Height)
	assert.Equal(t, uint64(1005), b.Time)
}
