// 文件: pkg/chain/types.go
// 宿主运行时的基础类型
//
// 【职责】
// 合约之间不直接调用，而是返回"子消息"交给宿主按顺序执行，
// 宿主再把执行结果通过 Reply 回调给发起方。这是两阶段执行模型的全部基础。

package chain

import (
	"vperp.com/pkg/fixed"
)

// =============================================================================
// 区块与调用信息
// =============================================================================

// BlockInfo 当前区块
type BlockInfo struct {
	Height uint64 `json:"height"`
	Time   uint64 `json:"time"` // unix 秒
}

// Env 合约执行环境
type Env struct {
	Block    BlockInfo
	Contract string // 当前合约地址
}

// Coin 原生币
type Coin struct {
	Denom  string     `json:"denom"`
	Amount fixed.Uint `json:"amount"`
}

// NewCoin 便捷构造
func NewCoin(denom string, amount fixed.Uint) Coin {
	return Coin{Denom: denom, Amount: amount}
}

// MessageInfo 调用方信息
type MessageInfo struct {
	Sender string
	Funds  []Coin
}

// AmountOf 返回 funds 中 denom 的总额
func (m MessageInfo) AmountOf(denom string) fixed.Uint {
	total := fixed.Zero()
	for _, c := range m.Funds {
		if c.Denom == denom {
			total, _ = total.Add(c.Amount)
		}
	}
	return total
}

// =============================================================================
// 事件
// =============================================================================

// Attribute key=value 属性
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event 一组属性
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Get 读取属性值 (取最后一个)
func (e Event) Get(key string) (string, bool) {
	for i := len(e.Attributes) - 1; i >= 0; i-- {
		if e.Attributes[i].Key == key {
			return e.Attributes[i].Value, true
		}
	}
	return "", false
}

// =============================================================================
// 消息
// =============================================================================

// Msg 宿主可以执行的消息
type Msg interface {
	isMsg()
}

// ExecuteMsg 调用另一个合约
type ExecuteMsg struct {
	Contract string
	Msg      any
	Funds    []Coin
}

// BankSend 发送原生币
type BankSend struct {
	To     string
	Amount []Coin
}

func (ExecuteMsg) isMsg() {}
func (BankSend) isMsg()   {}

// ReplyOn 何时回调发起方
type ReplyOn int

const (
	ReplyNever ReplyOn = iota
	ReplySuccess
	ReplyError
	ReplyAlways
)

// SubMsg 子消息
type SubMsg struct {
	ID      uint64
	Msg     Msg
	ReplyOn ReplyOn
}

// SubMsgResult 子消息结果: 成功时 Err 为 nil
type SubMsgResult struct {
	Events []Event
	Data   []byte
	Err    error
}

// Reply 回调参数
type Reply struct {
	ID     uint64
	Result SubMsgResult
}

// Response 合约返回
type Response struct {
	Messages   []SubMsg
	Attributes []Attribute
	Events     []Event
	Data       []byte
}

func NewResponse() *Response { return &Response{} }

// AddAttribute 追加属性
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// AddAttributes 追加一组属性 (k1, v1, k2, v2 ...)
func (r *Response) AddAttributes(kv ...string) *Response {
	for i := 0; i+1 < len(kv); i += 2 {
		r.AddAttribute(kv[i], kv[i+1])
	}
	return r
}

// AddMessage 追加不需要回调的消息
func (r *Response) AddMessage(msg Msg) *Response {
	r.Messages = append(r.Messages, SubMsg{Msg: msg, ReplyOn: ReplyNever})
	return r
}

// AddSubMessage 追加需要回调的子消息
func (r *Response) AddSubMessage(sub SubMsg) *Response {
	r.Messages = append(r.Messages, sub)
	return r
}

// AddEvent 追加自定义事件
func (r *Response) AddEvent(ev Event) *Response {
	r.Events = append(r.Events, ev)
	return r
}
