// 文件: pkg/pricefeed/contract_test.go

package pricefeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

var d = fixed.Pow10(9)

func price(x uint64) fixed.Uint {
	v, _ := fixed.NewUint(x).Mul(d)
	return v
}

func setupFeed(t *testing.T) *chain.App {
	app := chain.NewApp(storage.NewMemStore(), chain.WithBlock(chain.BlockInfo{Height: 1, Time: 1_000}))
	_, err := app.Instantiate("owner", "oracle", New(), InstantiateMsg{})
	require.NoError(t, err)
	return app
}

func TestAppendAndGetPrice(t *testing.T) {
	app := setupFeed(t)

	_, err := app.Execute("owner", "oracle", AppendPrice{Key: "ETH", Price: price(10), Timestamp: 900})
	require.NoError(t, err)
	_, err = app.Execute("owner", "oracle", AppendPrice{Key: "ETH", Price: price(12), Timestamp: 950})
	require.NoError(t, err)

	res, err := chain.QueryAs[PriceResponse](app, "oracle", GetPrice{Key: "ETH"})
	require.NoError(t, err)
	assert.Equal(t, price(12), res.Price)
	assert.Equal(t, uint64(2), res.Round)

	prev, err := chain.QueryAs[PriceResponse](app, "oracle", GetPreviousPrice{Key: "ETH", NumRoundBack: 1})
	require.NoError(t, err)
	assert.Equal(t, price(10), prev.Price)

	_, err = app.Query("oracle", GetPreviousPrice{Key: "ETH", NumRoundBack: 2})
	assert.ErrorIs(t, err, ErrPriceNotFound)
	_, err = app.Query("oracle", GetPrice{Key: "BTC"})
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestAppendValidation(t *testing.T) {
	app := setupFeed(t)

	_, err := app.Execute("mallory", "oracle", AppendPrice{Key: "ETH", Price: price(1), Timestamp: 900})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = app.Execute("owner", "oracle", AppendPrice{Key: "ETH", Price: fixed.Zero(), Timestamp: 900})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = app.Execute("owner", "oracle", AppendPrice{Key: "ETH", Price: price(1), Timestamp: 2_000})
	require.ErrorIs(t, err, ErrInvalidTimestamp)

	_, err = app.Execute("owner", "oracle", AppendMultiplePrice{
		Key:        "ETH",
		Prices:     []fixed.Uint{price(1), price(2)},
		Timestamps: []uint64{900, 900},
	})
	require.ErrorIs(t, err, ErrInvalidTimestamp)

	// 整笔回滚，第一轮也不应存在
	_, err = app.Query("oracle", GetPrice{Key: "ETH"})
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestTwapPrice(t *testing.T) {
	app := setupFeed(t)

	_, err := app.Execute("owner", "oracle", AppendMultiplePrice{
		Key:        "ETH",
		Prices:     []fixed.Uint{price(400), price(405), price(410)},
		Timestamps: []uint64{700, 850, 950},
	})
	require.NoError(t, err)

	// 区间 [800,1000]: 410*50 + 405*100 + 400*50 = 81000 / 200 = 405
	twap, err := chain.QueryAs[fixed.Uint](app, "oracle", GetTwapPrice{Key: "ETH", Interval: 200})
	require.NoError(t, err)
	assert.Equal(t, price(405), twap)

	// interval 为 0 返回最新价
	twap, err = chain.QueryAs[fixed.Uint](app, "oracle", GetTwapPrice{Key: "ETH", Interval: 0})
	require.NoError(t, err)
	assert.Equal(t, price(410), twap)

	// 历史不足: [0,1000] 只覆盖了 300 秒
	// 410*50 + 405*100 + 400*150 = 121000 / 300
	twap, err = chain.QueryAs[fixed.Uint](app, "oracle", GetTwapPrice{Key: "ETH", Interval: 5_000})
	require.NoError(t, err)
	want, _ := price(121_000).Div(fixed.NewUint(300))
	assert.Equal(t, want, twap)
}

func TestClient(t *testing.T) {
	app := setupFeed(t)
	_, err := app.Execute("owner", "oracle", AppendPrice{Key: "ETH", Price: price(3), Timestamp: 1_000})
	require.NoError(t, err)

	var got fixed.Uint
	// Client 需要执行期的 Querier，这里用一个最小合约转发
	_, err = app.Instantiate("owner", "reader", readerContract{out: &got}, nil)
	require.NoError(t, err)
	_, err = app.Execute("anyone", "reader", "read")
	require.NoError(t, err)
	assert.Equal(t, price(3), got)
}

type readerContract struct{ out *fixed.Uint }

func (r readerContract) Instantiate(chain.Context, chain.MessageInfo, any) (*chain.Response, error) {
	return chain.NewResponse(), nil
}

func (r readerContract) Execute(ctx chain.Context, _ chain.MessageInfo, _ any) (*chain.Response, error) {
	p, err := NewClient(ctx.Querier, "oracle").GetPrice("ETH")
	if err != nil {
		return nil, err
	}
	*r.out = p
	return chain.NewResponse(), nil
}

func (r readerContract) Query(chain.Context, any) (any, error) { return nil, nil }
