// 文件: pkg/config/config.go
// 开发网配置 (TOML)
//
// 【设计】
// - Load 先取 Default()，再用文件覆盖，文件里没写的键保持默认值
// - 比例、价格、数量一律写成字符串小数 ("0.05"、"1000")，由 shopspring/decimal 解析，
//   部署时再按精度转成定点整数，配置层不碰浮点
// - 文件不存在时返回默认配置，不报错

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config 根配置
type Config struct {
	Chain   ChainConfig   `toml:"chain"`
	Genesis GenesisConfig `toml:"genesis"`
	Keeper  KeeperConfig  `toml:"keeper"`
	Sim     SimConfig     `toml:"simulation"`
	NATS    NATSConfig    `toml:"nats"`
	Kafka   KafkaConfig   `toml:"kafka"`
	MySQL   MySQLConfig   `toml:"mysql"`
	Redis   RedisConfig   `toml:"redis"`
	HTTP    HTTPConfig    `toml:"http"`
	Log     LogConfig     `toml:"log"`
}

// ChainConfig 进程内宿主
type ChainConfig struct {
	Store     string        `toml:"store"` // memory | leveldb
	DataDir   string        `toml:"data_dir"`
	BlockTime time.Duration `toml:"block_time"`
	StartTime uint64        `toml:"start_time"` // 创世区块时间 (unix 秒)，0 取当前时间
}

// GenesisConfig 创世部署
type GenesisConfig struct {
	Owner    string `toml:"owner"`
	Operator string `toml:"operator"` // 可以代替 owner 触发资金费结算
	Keeper   string `toml:"keeper"`   // 清算/止盈止损机器人地址

	Collateral CollateralConfig `toml:"collateral"`
	Engine     EngineConfig     `toml:"engine"`
	Vamms      []VammConfig     `toml:"vamms"`
	Traders    []TraderConfig   `toml:"traders"`

	// 保险基金初始余额
	InsuranceBalance decimal.Decimal `toml:"insurance_balance"`
}

// CollateralConfig 抵押品: 原生币或 cw20 合约
type CollateralConfig struct {
	Native   bool   `toml:"native"`
	Denom    string `toml:"denom"`    // native=true 时使用
	Contract string `toml:"contract"` // native=false 时的 cw20 地址
	Name     string `toml:"name"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// EngineConfig 保证金引擎参数
type EngineConfig struct {
	Address                 string          `toml:"address"`
	InitialMarginRatio      decimal.Decimal `toml:"initial_margin_ratio"`
	MaintenanceMarginRatio  decimal.Decimal `toml:"maintenance_margin_ratio"`
	PartialLiquidationRatio decimal.Decimal `toml:"partial_liquidation_ratio"`
	LiquidationFee          decimal.Decimal `toml:"liquidation_fee"`
	TpSlSpread              decimal.Decimal `toml:"tp_sl_spread"`
	InsuranceFund           string          `toml:"insurance_fund"`
	FeePool                 string          `toml:"fee_pool"`
	Pricefeed               string          `toml:"pricefeed"`
}

// VammConfig 一个虚拟市场
type VammConfig struct {
	Address                 string          `toml:"address"`
	BaseAsset               string          `toml:"base_asset"` // 同时是预言机价格 key
	QuoteAsset              string          `toml:"quote_asset"`
	QuoteAssetReserve       decimal.Decimal `toml:"quote_asset_reserve"`
	BaseAssetReserve        decimal.Decimal `toml:"base_asset_reserve"`
	FundingPeriod           uint64          `toml:"funding_period"`
	TollRatio               decimal.Decimal `toml:"toll_ratio"`
	SpreadRatio             decimal.Decimal `toml:"spread_ratio"`
	FluctuationLimitRatio   decimal.Decimal `toml:"fluctuation_limit_ratio"`
	BaseAssetHoldingCap     decimal.Decimal `toml:"base_asset_holding_cap"`
	OpenInterestNotionalCap decimal.Decimal `toml:"open_interest_notional_cap"`
	OraclePrice             decimal.Decimal `toml:"oracle_price"` // 初始喂价
}

// TraderConfig 预置交易者
type TraderConfig struct {
	Address string          `toml:"address"`
	Balance decimal.Decimal `toml:"balance"`
}

// KeeperConfig 链下机器人
type KeeperConfig struct {
	FundingInterval     time.Duration `toml:"funding_interval"`
	LiquidationInterval time.Duration `toml:"liquidation_interval"`
	TriggerInterval     time.Duration `toml:"trigger_interval"`
	Workers             int           `toml:"workers"`
	TriggerIndex        string        `toml:"trigger_index"` // btree | redis
}

// SimConfig 随机行情模拟
type SimConfig struct {
	Steps        int             `toml:"steps"`
	Seed         int64           `toml:"seed"`
	OracleDrift  decimal.Decimal `toml:"oracle_drift"` // 每步预言机最大相对变动
	MaxLeverage  int64           `toml:"max_leverage"`
	MaxQuote     decimal.Decimal `toml:"max_quote"`
	StepInterval time.Duration   `toml:"step_interval"` // 墙钟间隔，0 表示尽快跑完
}

type NATSConfig struct {
	URL     string `toml:"url"` // 空表示不启用
	Subject string `toml:"subject"`
	Queue   string `toml:"queue"` // 索引器的队列组，多实例部署时设置
}

type KafkaConfig struct {
	Brokers []string `toml:"brokers"` // 空表示不启用
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

type MySQLConfig struct {
	DSN string `toml:"dsn"` // 空表示不启用索引器
}

type RedisConfig struct {
	Addr     string `toml:"addr"` // 空表示不启用
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type HTTPConfig struct {
	Listen string `toml:"listen"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// =============================================================================
// 加载
// =============================================================================

// Load 读取配置文件，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Parse 从字符串解析，测试和内嵌配置用
func Parse(data string) (*Config, error) {
	cfg := Default()
	// 数组表会复用已有元素，先清空再解码，文件里没写才回落到默认列表
	vamms, traders := cfg.Genesis.Vamms, cfg.Genesis.Traders
	cfg.Genesis.Vamms, cfg.Genesis.Traders = nil, nil
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Genesis.Vamms == nil {
		cfg.Genesis.Vamms = vamms
	}
	if cfg.Genesis.Traders == nil {
		cfg.Genesis.Traders = traders
	}
	cfg.fillVammDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillVammDefaults 文件里的市场逐项补默认值
func (c *Config) fillVammDefaults() {
	def := defaultVamm()
	for i := range c.Genesis.Vamms {
		v := &c.Genesis.Vamms[i]
		if v.QuoteAsset == "" {
			v.QuoteAsset = def.QuoteAsset
		}
		if v.QuoteAssetReserve.IsZero() {
			v.QuoteAssetReserve = def.QuoteAssetReserve
		}
		if v.BaseAssetReserve.IsZero() {
			v.BaseAssetReserve = def.BaseAssetReserve
		}
		if v.FundingPeriod == 0 {
			v.FundingPeriod = def.FundingPeriod
		}
		if v.OraclePrice.IsZero() && !v.BaseAssetReserve.IsZero() {
			v.OraclePrice = v.QuoteAssetReserve.Div(v.BaseAssetReserve)
		}
	}
	for i := range c.Genesis.Traders {
		if c.Genesis.Traders[i].Balance.IsZero() {
			c.Genesis.Traders[i].Balance = decimal.NewFromInt(10_000)
		}
	}
}

// Validate 只检查部署前就能发现的问题，合约自身的校验在实例化时做
func (c *Config) Validate() error {
	switch c.Chain.Store {
	case "memory":
	case "leveldb":
		if c.Chain.DataDir == "" {
			return fmt.Errorf("%w: chain.data_dir required for leveldb", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: chain.store %q", ErrInvalidConfig, c.Chain.Store)
	}
	if c.Chain.BlockTime <= 0 {
		return fmt.Errorf("%w: chain.block_time must be positive", ErrInvalidConfig)
	}

	g := c.Genesis
	if strings.TrimSpace(g.Owner) == "" {
		return fmt.Errorf("%w: genesis.owner required", ErrInvalidConfig)
	}
	if g.Collateral.Native && g.Collateral.Denom == "" {
		return fmt.Errorf("%w: genesis.collateral.denom required for native collateral", ErrInvalidConfig)
	}
	if !g.Collateral.Native && g.Collateral.Contract == "" {
		return fmt.Errorf("%w: genesis.collateral.contract required", ErrInvalidConfig)
	}
	if len(g.Vamms) == 0 {
		return fmt.Errorf("%w: at least one vamm", ErrInvalidConfig)
	}
	seen := map[string]bool{}
	for _, v := range g.Vamms {
		if v.Address == "" || v.BaseAsset == "" {
			return fmt.Errorf("%w: vamm address and base_asset required", ErrInvalidConfig)
		}
		if seen[v.Address] {
			return fmt.Errorf("%w: duplicate vamm %s", ErrInvalidConfig, v.Address)
		}
		seen[v.Address] = true
	}

	switch c.Keeper.TriggerIndex {
	case "btree":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: keeper.trigger_index=redis needs redis.addr", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: keeper.trigger_index %q", ErrInvalidConfig, c.Keeper.TriggerIndex)
	}
	if c.Keeper.Workers <= 0 {
		return fmt.Errorf("%w: keeper.workers must be positive", ErrInvalidConfig)
	}
	return nil
}

// VammAddresses 所有 vAMM 地址
func (g GenesisConfig) VammAddresses() []string {
	out := make([]string, 0, len(g.Vamms))
	for _, v := range g.Vamms {
		out = append(out, v.Address)
	}
	return out
}
