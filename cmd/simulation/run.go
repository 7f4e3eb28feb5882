// 文件: cmd/simulation/run.go
// run 子命令: 组装开发网、事件管道、机器人和 HTTP 接口
//
// 【事件管道】
//
//	宿主 ──► NATS 发布者 (nats.url)
//	    ──► Kafka 生产者 (kafka.brokers)
//	    ──► 止盈止损监听 (总是挂)
//	    ──► 索引器 (mysql.dsn)，来源优先级: Kafka 消费者 > NATS 订阅 > 直接挂在宿主上
//
// 【生命周期】所有长跑组件放进同一个 errgroup，收到 SIGINT/SIGTERM 后一起退出

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vperp.com/pkg/api"
	"vperp.com/pkg/chain"
	"vperp.com/pkg/config"
	"vperp.com/pkg/devnet"
	"vperp.com/pkg/indexer"
	"vperp.com/pkg/kafka"
	"vperp.com/pkg/keeper"
	natsbus "vperp.com/pkg/nats"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deploys a devnet and drives it with random traders, an oracle random walk and keepers",
		Args:  cobra.NoArgs,
		RunE:  runFunc,
	}
}

// closers 逆序关闭
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) closeAll(logger *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

func runFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var cl closers
	defer cl.closeAll(logger)

	store, closeStore, err := devnet.OpenStore(cfg.Chain)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	cl.add(closeStore)

	app := devnet.NewApp(store, cfg.Chain, logger)
	d, err := devnet.Deploy(app, cfg.Genesis)
	if err != nil {
		return err
	}
	logger.Info("[Devnet] deployed",
		zap.String("engine", d.Engine),
		zap.Strings("vamms", d.MarketAddresses()),
		zap.Strings("traders", d.Traders))

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(c.Context()).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cl.add(rdb.Close)
	}

	if err := wireSinks(c.Context(), cfg, d, &cl, logger); err != nil {
		return err
	}
	records, err := wireIndexer(cfg, d, rdb, &cl, logger)
	if err != nil {
		return err
	}

	index := keeper.TriggerIndex(keeper.NewBTreeIndex())
	if cfg.Keeper.TriggerIndex == "redis" {
		index = keeper.NewRedisIndex(rdb, "")
	}
	watcher := keeper.NewTriggerWatcher(app, d.Engine, d.Keeper, index, cfg.Keeper.TriggerInterval, logger)
	app.AddSink("tpsl", watcher)

	funding := keeper.NewFundingKeeper(app, d.Engine, d.Operator, cfg.Keeper.FundingInterval, logger)
	liquidation := keeper.NewLiquidationKeeper(app, keeper.LiquidationConfig{
		Engine:       d.Engine,
		Liquidator:   d.Keeper,
		ScanInterval: cfg.Keeper.LiquidationInterval,
		Workers:      cfg.Keeper.Workers,
	}, logger)

	sim, err := newSimulator(d, cfg.Sim, cfg.Chain.BlockTime, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(c.Context())
	g.Go(func() error { return funding.Run(ctx) })
	g.Go(func() error { return liquidation.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error {
		err := sim.Run(ctx)
		stats := liquidation.Stats()
		logger.Info("[Sim] finished",
			zap.Int("steps", sim.stats.Steps),
			zap.Int("opened", sim.stats.Opened),
			zap.Int("closed", sim.stats.Closed),
			zap.Int("rejected", sim.stats.Rejected),
			zap.Int("liquidations_submitted", stats.Submitted),
			zap.Int("liquidations_failed", stats.Failed))
		return err
	})
	if cfg.HTTP.Listen != "" {
		srv := api.New(app, d.Engine, records, logger)
		g.Go(func() error { return srv.ListenAndServe(ctx, cfg.HTTP.Listen) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("[Devnet] stopped", zap.Uint64("height", app.Block().Height))
	return err
}

// wireSinks 对外广播
func wireSinks(ctx context.Context, cfg *config.Config, d *devnet.Devnet, cl *closers, logger *zap.Logger) error {
	if cfg.NATS.URL != "" {
		pub, err := natsbus.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return err
		}
		d.App.AddSink("nats", pub)
		cl.add(func() error { pub.Close(); return nil })
		logger.Info("[Devnet] publishing to nats", zap.String("url", cfg.NATS.URL), zap.String("prefix", cfg.NATS.Subject))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
		if err != nil {
			return err
		}
		sink := kafka.NewSink(p, cfg.Kafka.Topic)
		d.App.AddSink("kafka", sink)
		cl.add(sink.Close)
		logger.Info("[Devnet] publishing to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	return ctx.Err()
}

// wireIndexer 没有 DSN 时返回 nil，HTTP 不挂历史路由
func wireIndexer(cfg *config.Config, d *devnet.Devnet, rdb *redis.Client, cl *closers, logger *zap.Logger) (indexer.RecordRepository, error) {
	if cfg.MySQL.DSN == "" {
		return nil, nil
	}
	db, err := indexer.OpenMySQL(cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		cl.add(sqlDB.Close)
	}
	if err := indexer.Migrate(db); err != nil {
		return nil, err
	}
	repo := indexer.NewGormRepository(db)

	var positions indexer.PositionRepository = repo
	if rdb != nil {
		positions = indexer.NewCachedPositionRepository(repo, rdb, logger)
	}
	ids, err := indexer.NewIDGenerator(1)
	if err != nil {
		return nil, err
	}
	proj := indexer.NewProjector(indexer.ProjectorConfig{Engine: d.Engine, Insurance: d.Insurance}, positions, repo, ids, logger)

	source, err := attachProjector(cfg, d.App, proj, cl, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("[Indexer] projecting", zap.String("source", source), zap.Bool("redis_cache", rdb != nil))
	return repo, nil
}

func attachProjector(cfg *config.Config, app *chain.App, proj *indexer.Projector, cl *closers, logger *zap.Logger) (string, error) {
	switch {
	case len(cfg.Kafka.Brokers) > 0:
		consumer, err := kafka.NewConsumer(
			kafka.DefaultConsumerConfig(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{cfg.Kafka.Topic}),
			kafka.TxHandler(proj), logger)
		if err != nil {
			return "", err
		}
		consumer.Start()
		cl.add(consumer.Stop)
		return "kafka", nil

	case cfg.NATS.URL != "":
		sub, err := natsbus.NewSubscriber(cfg.NATS.URL, natsbus.TxHandler(proj), logger)
		if err != nil {
			return "", err
		}
		if err := sub.Listen(natsbus.AllTxSubject(cfg.NATS.Subject), cfg.NATS.Queue); err != nil {
			_ = sub.Close()
			return "", err
		}
		cl.add(sub.Close)
		return "nats", nil
	}
	app.AddSink("indexer", proj)
	return "direct", nil
}
