// Command lucid-client performs single calls against a lucid server.
//
// Usage:
//
//	lucid-client call add '[2, 3]'
//	lucid-client call --idempotent --timeout 50ms bench.io '{"delay_ms": 500}'
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"lucid-rpc/codec"
	"lucid-rpc/internal/cliutil"
	"lucid-rpc/message"
)

func main() {
	app := &cli.App{
		Name:           "lucid-client",
		Usage:          "Call methods on a lucid RPC server",
		ExitErrHandler: cliutil.ExitErrHandler,
		Commands: []*cli.Command{
			callCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func callCommand() *cli.Command {
	flags := append(cliutil.CommonFlags(), cliutil.ClientFlags()...)
	flags = append(flags, &cli.BoolFlag{Name: "idempotent", Usage: "mark the call safe to retry"})
	return &cli.Command{
		Name:      "call",
		Usage:     "Invoke METHOD with optional JSON params and print the result",
		ArgsUsage: "METHOD [PARAMS_JSON]",
		Flags:     flags,
		Action:    callAction,
	}
}

func callAction(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return cli.Exit("usage: lucid-client call METHOD [PARAMS_JSON]", 2)
	}
	method := c.Args().Get(0)

	jc := &codec.JSONCodec{}
	var params message.Params
	if raw := c.Args().Get(1); raw != "" {
		var v any
		if err := jc.Decode([]byte(raw), &v); err != nil {
			return cli.Exit(fmt.Sprintf("invalid params JSON: %v", err), 2)
		}
		params = message.NewParams(v)
	}

	cfg, logger, err := cliutil.Load(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cl, err := cliutil.NewClient(cfg.Client, logger)
	if err != nil {
		return err
	}
	defer cl.Close()

	meta := message.Meta{
		TimeoutMS:  cfg.Client.Timeout.Std().Milliseconds(),
		Idempotent: c.Bool("idempotent"),
	}
	var result any
	if err := cl.Call(c.Context, method, params, meta, &result); err != nil {
		var rpcErr *message.Error
		if errors.As(err, &rpcErr) {
			return cli.Exit(fmt.Sprintf("%s: %s %v", rpcErr.Code, rpcErr.Message, rpcErr.Details), 3)
		}
		return err
	}

	out, err := jc.Encode(result)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}
