// 文件: pkg/pricefeed/client.go
// 预言机读取接口

package pricefeed

import (
	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
)

// Client 只读价格源
type Client interface {
	GetPrice(key string) (fixed.Uint, error)
	GetPreviousPrice(key string, numRoundBack uint64) (fixed.Uint, error)
	GetTwapPrice(key string, interval uint64) (fixed.Uint, error)
}

// QuerierClient 通过宿主查询预言机合约
type QuerierClient struct {
	q    chain.Querier
	addr string
}

func NewClient(q chain.Querier, addr string) *QuerierClient {
	return &QuerierClient{q: q, addr: addr}
}

func (c *QuerierClient) GetPrice(key string) (fixed.Uint, error) {
	res, err := chain.Query[PriceResponse](c.q, c.addr, GetPrice{Key: key})
	if err != nil {
		return fixed.Zero(), err
	}
	return res.Price, nil
}

func (c *QuerierClient) GetPreviousPrice(key string, numRoundBack uint64) (fixed.Uint, error) {
	res, err := chain.Query[PriceResponse](c.q, c.addr, GetPreviousPrice{Key: key, NumRoundBack: numRoundBack})
	if err != nil {
		return fixed.Zero(), err
	}
	return res.Price, nil
}

func (c *QuerierClient) GetTwapPrice(key string, interval uint64) (fixed.Uint, error) {
	return chain.Query[fixed.Uint](c.q, c.addr, GetTwapPrice{Key: key, Interval: interval})
}
