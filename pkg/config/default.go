// 文件: pkg/config/default.go
// 默认配置: 单个 ETH/USD 市场，cw20 USDC 抵押品，三个交易者

package config

import (
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func defaultVamm() VammConfig {
	return VammConfig{
		Address:               "vamm-eth",
		BaseAsset:             "ETH",
		QuoteAsset:            "USD",
		QuoteAssetReserve:     dec("1000000"),
		BaseAssetReserve:      dec("1000"),
		FundingPeriod:         3600,
		TollRatio:             dec("0.001"),
		SpreadRatio:           dec("0.001"),
		FluctuationLimitRatio: dec("0.1"),
		OraclePrice:           dec("1000"),
	}
}

// Default 开箱即用的开发网
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			Store:     "memory",
			DataDir:   "./data",
			BlockTime: 5 * time.Second,
		},
		Genesis: GenesisConfig{
			Owner:    "owner",
			Operator: "operator",
			Keeper:   "keeper",
			Collateral: CollateralConfig{
				Contract: "usdc",
				Name:     "USD Coin",
				Symbol:   "USDC",
				Decimals: 9,
			},
			Engine: EngineConfig{
				Address:                 "engine",
				InitialMarginRatio:      dec("0.1"),
				MaintenanceMarginRatio:  dec("0.0625"),
				PartialLiquidationRatio: dec("0.25"),
				LiquidationFee:          dec("0.025"),
				TpSlSpread:              dec("0.05"),
				InsuranceFund:           "insurance",
				FeePool:                 "feepool",
				Pricefeed:               "oracle",
			},
			Vamms: []VammConfig{defaultVamm()},
			Traders: []TraderConfig{
				{Address: "alice", Balance: dec("10000")},
				{Address: "bob", Balance: dec("10000")},
				{Address: "carol", Balance: dec("10000")},
			},
			InsuranceBalance: dec("5000"),
		},
		Keeper: KeeperConfig{
			FundingInterval:     10 * time.Second,
			LiquidationInterval: time.Second,
			TriggerInterval:     time.Second,
			Workers:             4,
			TriggerIndex:        "btree",
		},
		Sim: SimConfig{
			Steps:       500,
			Seed:        1,
			OracleDrift: dec("0.01"),
			MaxLeverage: 10,
			MaxQuote:    dec("500"),
		},
		NATS: NATSConfig{
			Subject: "vperp",
		},
		Kafka: KafkaConfig{
			Topic:   "vperp-events",
			GroupID: "vperp-indexer",
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
