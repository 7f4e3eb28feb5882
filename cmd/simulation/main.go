// 文件: cmd/simulation/main.go
// 开发网模拟器
//
//	simulation run      -c devnet.toml   部署开发网，跑随机交易者 + 预言机随机游走 + 机器人 + HTTP
//	simulation scenario [name]           在干净的开发网上回放固定场景并打印结果
//	simulation version

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vperp.com/pkg/config"
)

const configKey = "config"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "simulation",
		Short:         "Runs a perpetual futures devnet with simulated traders and keepers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP(configKey, "c", "", "path to the devnet toml config (defaults apply when empty)")
	root.AddCommand(runCommand(), scenarioCommand(), versionCommand())
	return root
}

func loadConfig(c *cobra.Command) (*config.Config, error) {
	path, err := c.Flags().GetString(configKey)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// newLogger development 模式输出彩色控制台格式
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
