// Command lucid-server serves the demo and bench handlers.
//
// Usage:
//
//	lucid-server [--config lucid.yaml] [--addr :5000] [--driver concurrent|sequential]
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lucid-rpc/codec"
	"lucid-rpc/config"
	"lucid-rpc/internal/cliutil"
	"lucid-rpc/internal/demo"
	"lucid-rpc/internal/telemetry"
	"lucid-rpc/middleware"
	"lucid-rpc/server"
)

func main() {
	app := &cli.App{
		Name:           "lucid-server",
		Usage:          "Serve lucid RPC demo handlers over TCP",
		ExitErrHandler: cliutil.ExitErrHandler,
		Flags: append(cliutil.CommonFlags(),
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "listen address"},
			&cli.StringFlag{Name: "codec", Usage: "json or msgpack"},
			&cli.StringFlag{Name: "driver", Usage: "concurrent or sequential"},
			&cli.Int64Flag{Name: "max-in-flight", Usage: "concurrent driver bound, 0 = unbounded"},
			&cli.BoolFlag{Name: "bench", Value: true, Usage: "also register bench.io, bench.cpu, bench.mixed"},
			&cli.BoolFlag{Name: "otel-stdout", Usage: "export spans and metrics to stdout"},
			&cli.DurationFlag{Name: "otel-interval", Value: 30 * time.Second, Usage: "metric export interval"},
		),
		Action: serve,
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg, logger, err := cliutil.Load(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sc := cfg.Server
	if c.IsSet("addr") {
		sc.Addr = c.String("addr")
	}
	if c.IsSet("codec") {
		sc.Codec = c.String("codec")
	}
	if c.IsSet("driver") {
		sc.Driver = c.String("driver")
	}
	if c.IsSet("max-in-flight") {
		sc.MaxInFlight = c.Int64("max-in-flight")
	}

	router := server.NewRouter()
	if err := demo.Register(router); err != nil {
		return err
	}
	if c.Bool("bench") {
		if err := demo.RegisterBench(router); err != nil {
			return err
		}
	}

	if c.Bool("otel-stdout") {
		providers, err := telemetry.Setup(c.App.Writer, c.Duration("otel-interval"))
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(ctx); err != nil {
				logger.Warn("telemetry shutdown", zap.Error(err))
			}
		}()
	}

	svr, err := newServer(sc, router, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sc.Addr, err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svr.Serve(ctx, ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", sc.ShutdownTimeout.Std()))
		return svr.Shutdown(sc.ShutdownTimeout.Std())
	})

	logger.Info("lucid-server started",
		zap.String("addr", ln.Addr().String()),
		zap.String("driver", sc.Driver),
		zap.String("codec", sc.Codec),
		zap.Strings("methods", router.Methods()),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newServer(sc config.ServerConfig, router *server.Router, logger *zap.Logger) (*server.Server, error) {
	ct, err := codec.ParseCodecType(sc.Codec)
	if err != nil {
		return nil, err
	}

	var driver server.Driver
	switch sc.Driver {
	case "sequential":
		driver = server.SequentialDriver{}
	default:
		driver = server.NewConcurrentDriver(sc.MaxInFlight)
	}

	// outermost first: recovery wraps everything, the timeout sits closest to the handler
	mws := []middleware.Middleware{
		middleware.RecoveryMiddleware(logger),
		middleware.TracingMiddleware(middleware.TracingConfig{ServiceName: "lucid-server"}),
		middleware.LoggingMiddleware(logger.Named("rpc")),
	}
	if sc.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(sc.RateLimit, sc.RateBurst))
	}
	mws = append(mws, middleware.TimeOutMiddleware(sc.HandlerTimeout.Std()))

	return server.NewServer(router,
		server.WithDriver(driver),
		server.WithCodec(codec.GetCodec(ct)),
		server.WithMaxFrameSize(sc.MaxFrameSize),
		server.WithLogger(logger.Named("server")),
		server.WithMiddleware(mws...),
	), nil
}
