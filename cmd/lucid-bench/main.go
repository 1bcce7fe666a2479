// Command lucid-bench measures call throughput and latency against a lucid
// server. Each worker owns its own client, so workers do not share connections.
//
// Usage:
//
//	lucid-bench --method bench.io --workers 8 --requests-per-worker 200
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lucid-rpc/client"
	"lucid-rpc/codec"
	"lucid-rpc/config"
	"lucid-rpc/internal/bench"
	"lucid-rpc/internal/cliutil"
	"lucid-rpc/message"
)

func main() {
	flags := append(cliutil.CommonFlags(), cliutil.ClientFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "method", Value: "add", Usage: "method to call"},
		&cli.StringFlag{Name: "params", Value: "[1, 2]", Usage: "JSON params sent with every call"},
		&cli.IntFlag{Name: "workers", Value: 4, Usage: "concurrent workers"},
		&cli.IntFlag{Name: "requests-per-worker", Value: 50, Usage: "calls issued by each worker"},
	)

	app := &cli.App{
		Name:           "lucid-bench",
		Usage:          "Benchmark a lucid RPC server",
		ExitErrHandler: cliutil.ExitErrHandler,
		Flags:          flags,
		Action:         run,
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	workers, perWorker := c.Int("workers"), c.Int("requests-per-worker")
	if workers < 1 || perWorker < 1 {
		return cli.Exit("--workers and --requests-per-worker must be at least 1", 2)
	}

	var raw any
	if err := (&codec.JSONCodec{}).Decode([]byte(c.String("params")), &raw); err != nil {
		return cli.Exit(fmt.Sprintf("invalid --params: %v", err), 2)
	}
	params := message.NewParams(raw)

	cfg, logger, err := cliutil.Load(c)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if !c.IsSet("timeout") {
		cfg.Client.Timeout = config.Duration(3 * time.Second)
	}

	clients := make([]*client.Client, workers)
	for i := range clients {
		if clients[i], err = cliutil.NewClient(cfg.Client, logger); err != nil {
			return err
		}
	}
	defer func() {
		var errs error
		for _, cl := range clients {
			errs = multierr.Append(errs, cl.Close())
		}
		if errs != nil {
			logger.Warn("closing clients", zap.Error(errs))
		}
	}()

	method := c.String("method")
	meta := message.Meta{TimeoutMS: cfg.Client.Timeout.Std().Milliseconds(), Idempotent: true}
	report, err := bench.Run(c.Context, bench.Config{Workers: workers, PerWorker: perWorker},
		func(ctx context.Context, worker int) error {
			return clients[worker].Call(ctx, method, params, meta, nil)
		})
	if err != nil {
		return err
	}
	report.Print(c.App.Writer)
	return nil
}
