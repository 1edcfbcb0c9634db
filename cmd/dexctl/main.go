// Command dexctl submits orders to a running gateway and follows their
// status updates.
//
//	dexctl submit -in SOL -out USDC -amount 1.5
//	dexctl load -n 50 -c 10
//	dexctl get <order-id>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexrouter/internal/client"
	"github.com/alanyoungcy/dexrouter/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(ctx, os.Args[2:], logger)
	case "load":
		err = runLoad(ctx, os.Args[2:], logger)
	case "get":
		err = runGet(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("dexctl failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dexctl <submit|load|get> [flags]")
}

// orderFlags registers the flags shared by submit and load.
type orderFlags struct {
	addr     *string
	apiKey   *string
	tokenIn  *string
	tokenOut *string
	amount   *string
	slippage *string
	timeout  *time.Duration
}

func newOrderFlags(fs *flag.FlagSet) orderFlags {
	return orderFlags{
		addr:     fs.String("addr", envOr("DEXROUTER_GATEWAY", "http://localhost:3000"), "gateway base URL"),
		apiKey:   fs.String("api-key", os.Getenv("DEXROUTER_SERVER_API_KEY"), "API key for order submission"),
		tokenIn:  fs.String("in", "SOL", "input token"),
		tokenOut: fs.String("out", "USDC", "output token"),
		amount:   fs.String("amount", "1", "amount of the input token"),
		slippage: fs.String("slippage", "", "max slippage fraction, e.g. 0.05"),
		timeout:  fs.Duration("timeout", 2*time.Minute, "overall deadline"),
	}
}

func (f orderFlags) request() (domain.OrderRequest, error) {
	amount, err := decimal.NewFromString(*f.amount)
	if err != nil {
		return domain.OrderRequest{}, fmt.Errorf("invalid -amount: %w", err)
	}
	req := domain.OrderRequest{
		TokenIn:   *f.tokenIn,
		TokenOut:  *f.tokenOut,
		Amount:    amount,
		OrderType: domain.OrderTypeMarket,
	}
	if *f.slippage != "" {
		s, err := decimal.NewFromString(*f.slippage)
		if err != nil {
			return domain.OrderRequest{}, fmt.Errorf("invalid -slippage: %w", err)
		}
		req.MaxSlippage = &s
	}
	return req, req.Validate()
}

func runSubmit(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	of := newOrderFlags(fs)
	_ = fs.Parse(args)

	req, err := of.request()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, *of.timeout)
	defer cancel()

	c := client.New(*of.addr, *of.apiKey)
	id, err := c.Submit(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("order admitted", slog.String("order_id", id))

	ev, err := c.Watch(ctx, id, func(ev domain.StatusEvent) {
		attrs := []any{slog.String("order_id", ev.OrderID), slog.String("status", string(ev.Status))}
		if ev.Venue != "" {
			attrs = append(attrs, slog.String("venue", ev.Venue))
		}
		logger.Info("status update", attrs...)
	})
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func runLoad(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	of := newOrderFlags(fs)
	n := fs.Int("n", 10, "number of orders")
	concurrency := fs.Int("c", 5, "orders in flight")
	_ = fs.Parse(args)

	req, err := of.request()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, *of.timeout)
	defer cancel()

	sum := client.New(*of.addr, *of.apiKey).Load(ctx, req, *n, *concurrency)
	for _, r := range sum.Results {
		if r.Err != nil {
			logger.Warn("order error", slog.String("order_id", r.OrderID), slog.String("error", r.Err.Error()))
		}
	}
	logger.Info("load finished",
		slog.Int("orders", len(sum.Results)),
		slog.Int("confirmed", sum.Confirmed),
		slog.Int("failed", sum.Failed),
		slog.Int("errors", sum.Errors),
		slog.Duration("elapsed", sum.Elapsed),
		slog.String("orders_per_min", fmt.Sprintf("%.2f", sum.PerMinute())),
	)
	return nil
}

func runGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	addr := fs.String("addr", envOr("DEXROUTER_GATEWAY", "http://localhost:3000"), "gateway base URL")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("get: expected one order id")
	}

	o, err := client.New(*addr, "").Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(o)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
