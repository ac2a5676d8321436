// Command ivxp is a command-line IVXP client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/urfave/cli.v1"

	"github.com/shamank/ivxp-sdk-go/pkg/client"
	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
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
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "request timeout",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ivxp"
	app.Usage = "buy services from IVXP providers"
	app.Flags = []cli.Flag{configFlag, debugFlag}
	app.Before = func(c *cli.Context) error {
		sdk.SetupLoggerTo(c.GlobalBool("debug"), "stderr")
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:      "catalog",
			Usage:     "show a provider catalog",
			ArgsUsage: "<provider-url>",
			Flags:     []cli.Flag{timeoutFlag},
			Action:    catalog,
		},
		{
			Name:      "status",
			Usage:     "show an order status",
			ArgsUsage: "<provider-url> <order-id>",
			Flags:     []cli.Flag{timeoutFlag},
			Action:    status,
		},
		{
			Name:      "request",
			Usage:     "purchase a service: quote, pay, wait and download",
			ArgsUsage: "<provider-url> <service-type>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "budget", Usage: "maximum price in USDC"},
				cli.StringFlag{Name: "description, d", Usage: "what the service should do"},
				cli.StringFlag{Name: "format", Usage: "requested delivery format"},
				cli.StringFlag{Name: "out, o", Usage: "write the deliverable to this file"},
				cli.BoolFlag{Name: "stream", Usage: "follow the order stream instead of polling"},
				cli.BoolFlag{Name: "no-confirm", Usage: "do not sign a receipt confirmation"},
				cli.DurationFlag{Name: "timeout", Value: 30 * time.Minute, Usage: "overall timeout"},
			},
			Action: request,
		},
		{
			Name:      "resume",
			Usage:     "continue a paid order after a recoverable failure",
			ArgsUsage: "<provider-url> <order-id> <tx-hash>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "out, o", Usage: "write the deliverable to this file"},
				cli.DurationFlag{Name: "timeout", Value: 30 * time.Minute, Usage: "overall timeout"},
			},
			Action: resume,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if tx := ivxperr.TxHashOf(err); tx != "" {
			fmt.Fprintln(os.Stderr, "payment transaction:", tx)
		}
		os.Exit(1)
	}
}

func args(c *cli.Context, n int) ([]string, error) {
	if c.NArg() != n {
		return nil, fmt.Errorf("%s expects %d arguments, see --help", c.Command.Name, n)
	}
	return c.Args()[:n], nil
}

func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func transport(c *cli.Context) *client.HTTPTransport {
	return client.NewHTTPTransport(c.Duration("timeout"), "")
}

func catalog(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	if err := client.ValidateProviderURL(a[0]); err != nil {
		return err
	}
	ctx, cancel := signalContext(c.Duration("timeout"))
	defer cancel()
	cat, err := transport(c).GetCatalog(ctx, a[0])
	if err != nil {
		return err
	}
	return printJSON(cat)
}

func status(c *cli.Context) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	if err := client.ValidateProviderURL(a[0]); err != nil {
		return err
	}
	ctx, cancel := signalContext(c.Duration("timeout"))
	defer cancel()
	st, err := transport(c).GetStatus(ctx, a[0], a[1])
	if err != nil {
		return err
	}
	return printJSON(st)
}

func newClient(c *cli.Context) (*sdk.Core, *client.Client, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	// NewSDK would reinstall the stdout logger.
	if cfg.Debug {
		sdk.SetupLoggerTo(true, "stderr")
		cfg.Debug = false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ivxp, err := sdk.NewSDK(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cl, err := ivxp.NewClient()
	if err != nil {
		ivxp.Close()
		return nil, nil, err
	}
	progress(ivxp.Events())
	return ivxp, cl, nil
}

// progress prints lifecycle events to stderr.
func progress(bus *events.Bus) {
	bus.SubscribeAll(func(e events.Event) {
		switch ev := e.(type) {
		case events.OrderQuotedEvent:
			fmt.Fprintf(os.Stderr, "quoted %s: %s USDC\n", ev.OrderID, ev.Price)
		case events.PaymentSentEvent:
			fmt.Fprintf(os.Stderr, "payment sent: %s\n", ev.TxHash)
		case events.StatusChangedEvent:
			fmt.Fprintf(os.Stderr, "status: %s -> %s\n", ev.From, ev.To)
		case events.OrderDeliveredEvent:
			fmt.Fprintf(os.Stderr, "deliverable received: %s\n", ev.ContentHash)
		}
	})
}

func request(c *cli.Context) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	budget, err := decimal.NewFromString(c.String("budget"))
	if err != nil {
		return errors.New("--budget must be a decimal USDC amount")
	}
	ivxp, cl, err := newClient(c)
	if err != nil {
		return err
	}
	defer ivxp.Close()

	ctx, cancel := signalContext(c.Duration("timeout"))
	defer cancel()
	req := client.Request{
		ProviderURL:    a[0],
		ServiceType:    a[1],
		Description:    c.String("description"),
		Budget:         budget,
		DeliveryFormat: c.String("format"),
		Timeout:        c.Duration("timeout"),
		Stream:         c.Bool("stream"),
	}
	if c.Bool("no-confirm") {
		off := false
		req.AutoConfirm = &off
	}
	res, err := cl.RequestService(ctx, req)
	if err != nil {
		return err
	}
	return report(c, res)
}

func resume(c *cli.Context) error {
	a, err := args(c, 3)
	if err != nil {
		return err
	}
	ivxp, cl, err := newClient(c)
	if err != nil {
		return err
	}
	defer ivxp.Close()

	ctx, cancel := signalContext(c.Duration("timeout"))
	defer cancel()
	res, err := cl.ResumeDelivery(ctx, client.ResumeRequest{
		ProviderURL: a[0],
		OrderID:     a[1],
		TxHash:      a[2],
		Timeout:     c.Duration("timeout"),
	})
	if err != nil {
		return err
	}
	return report(c, res)
}

func report(c *cli.Context, res *client.Result) error {
	if out := c.String("out"); out != "" {
		if err := os.WriteFile(out, res.Deliverable.Content, 0o600); err != nil {
			return err
		}
	} else {
		fmt.Println(string(res.Deliverable.Content))
	}
	summary := map[string]any{
		"order_id":     res.OrderID,
		"tx_hash":      res.TxHash,
		"status":       res.Status,
		"content_hash": res.Deliverable.ContentHash,
	}
	if res.Confirmation != nil {
		summary["confirmation"] = res.Confirmation
	}
	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
