// Package cliutil holds the flags and wiring shared by the lucid commands:
// config file loading with flag overrides, logger construction and client setup.
package cliutil

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"lucid-rpc/client"
	"lucid-rpc/codec"
	"lucid-rpc/config"
	"lucid-rpc/loadbalance"
	"lucid-rpc/transport"
)

// CommonFlags are accepted by every command.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file (defaults apply when omitted)",
			EnvVars: []string{"LUCID_CONFIG"},
		},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "json or console"},
	}
}

// ClientFlags configure the transport pool of client-side commands.
func ClientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "server address host:port"},
		&cli.StringFlag{Name: "codec", Usage: "json or msgpack"},
		&cli.IntFlag{Name: "pool-size", Usage: "transports per client"},
		&cli.StringFlag{Name: "picker", Usage: "round_robin or least_pending"},
		&cli.DurationFlag{Name: "timeout", Usage: "per-call wait budget, sent as meta.timeout_ms"},
		&cli.IntFlag{Name: "retries", Usage: "max retries for idempotent calls"},
	}
}

// Load reads the config file named by --config (or the defaults), applies the
// flags the user set, and builds the logger.
func Load(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, nil, err
		}
	}

	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	applyClientFlags(c, &cfg.Client)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func applyClientFlags(c *cli.Context, cc *config.ClientConfig) {
	if c.IsSet("addr") {
		cc.Addr = c.String("addr")
	}
	if c.IsSet("codec") {
		cc.Codec = c.String("codec")
	}
	if c.IsSet("pool-size") {
		cc.PoolSize = c.Int("pool-size")
	}
	if c.IsSet("picker") {
		cc.Picker = c.String("picker")
	}
	if c.IsSet("timeout") {
		cc.Timeout = config.Duration(c.Duration("timeout"))
	}
	if c.IsSet("retries") {
		cc.Retry.MaxRetries = c.Int("retries")
	}
}

// NewClient builds a client from the client section of cfg.
func NewClient(cfg config.ClientConfig, logger *zap.Logger) (*client.Client, error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	picker, err := loadbalance.New(cfg.Picker)
	if err != nil {
		return nil, err
	}

	dial := client.TCPDialer(cfg.Addr,
		transport.WithCodec(codec.GetCodec(ct)),
		transport.WithMaxFrameSize(cfg.MaxFrameSize),
		transport.WithLogger(logger.Named("transport")),
	)
	pool := client.NewPool(dial, cfg.PoolSize, picker, logger.Named("pool"))
	retry := client.RetryPolicy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay.Std(),
		MaxDelay:   cfg.Retry.MaxDelay.Std(),
	}
	return client.NewClient(pool, client.WithRetryPolicy(retry), client.WithLogger(logger)), nil
}

// ExitErrHandler prints err to stderr and exits, preserving cli.Exit codes.
func ExitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.ExitCode())
	}
	os.Exit(1)
}
