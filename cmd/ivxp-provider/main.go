// Command ivxp-provider runs an IVXP provider node from a YAML config file.
// Every configured service is answered by the built-in report handler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/provider"
	"github.com/shamank/ivxp-sdk-go/pkg/sdk"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Value: "ivxp.yaml",
		Usage: "YAML configuration file",
	}
	debugFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug logging",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "ivxp-provider"
	app.Usage = "serve IVXP services for USDC payments"
	app.Flags = []cli.Flag{configFlag, debugFlag}
	app.Action = run
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		zap.L().Error("provider stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ivxp, err := sdk.NewSDK(ctx, cfg)
	if err != nil {
		return err
	}
	defer ivxp.Close()

	opts := make([]provider.Option, 0, len(cfg.Provider.Services))
	for _, s := range cfg.Provider.Services {
		opts = append(opts, provider.WithHandler(s.Type, provider.ReportHandler(cfg.Provider.Name)))
	}
	node, err := ivxp.NewProvider(opts...)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	zap.L().Info("starting provider",
		zap.String("name", cfg.Provider.Name),
		zap.String("network", cfg.Network.Name),
		zap.Int("services", len(cfg.Provider.Services)))
	return node.Run(ctx)
}
