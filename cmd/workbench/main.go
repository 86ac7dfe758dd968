package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/Schwaller/tradery/internal/config"
	"github.com/Schwaller/tradery/internal/logger"
	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/internal/workbench"
)

// loadConfig reads the config file when given, otherwise the defaults.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	path := cmd.String("config")
	if path == "" {
		return config.Default(), nil
	}

	return config.Load(path)
}

// serveAction runs the cache with the observability server until interrupted.
func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	l, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	w, err := workbench.New(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to assemble workbench: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w.Start(runCtx)

	if err := w.Serve(cfg.Server.Addr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	w.Stop(shutdownCtx)

	return nil
}

// fetchAction warms the cache for one symbol and range, then exits. The page
// stays persisted in the local store for later sessions.
func fetchAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	kind := types.DataKind(cmd.String("kind"))
	if !kind.Valid() || kind == types.DataKindIndicator {
		return fmt.Errorf("unsupported data kind %q", kind)
	}

	symbol := cmd.String("symbol")
	subKey := cmd.String("timeframe")
	start := cmd.Timestamp("start")
	end := cmd.Timestamp("end")

	l, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	w, err := workbench.New(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to assemble workbench: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.Start(runCtx)

	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		w.Stop(stopCtx)
	}()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(fmt.Sprintf("Fetching %s %s", kind, symbol)),
		progressbar.OptionShowCount(),
	)

	state, err := fetchKind(w, kind, symbol, subKey, start, end, bar)
	if err != nil {
		return err
	}

	_ = bar.Finish()
	fmt.Println()

	if state != types.PageStateReady {
		return fmt.Errorf("fetch did not complete: page state %s", state)
	}

	log.Printf("Fetch completed for %s %s [%s, %s).", kind, symbol,
		start.Format(time.RFC3339), end.Format(time.RFC3339))

	return nil
}

// fetchKind dispatches to the typed manager for the kind and waits for the
// page to settle, mirroring progress onto the bar.
func fetchKind(
	w *workbench.Workbench,
	kind types.DataKind,
	symbol, subKey string,
	start, end time.Time,
	bar *progressbar.ProgressBar,
) (types.PageState, error) {
	const timeout = 10 * time.Minute

	switch kind {
	case types.DataKindCandles:
		page, err := w.Candles.Request(symbol, subKey, start, end, nil, "cli")
		if err != nil {
			return types.PageStateEmpty, err
		}

		return waitWithBar(page, bar, timeout), nil
	case types.DataKindFunding:
		page, err := w.Funding.Request(symbol, types.SubKeyDefault, start, end, nil, "cli")
		if err != nil {
			return types.PageStateEmpty, err
		}

		return waitWithBar(page, bar, timeout), nil
	case types.DataKindOpenInterest:
		page, err := w.OpenInterest.Request(symbol, types.SubKeyDefault, start, end, nil, "cli")
		if err != nil {
			return types.PageStateEmpty, err
		}

		return waitWithBar(page, bar, timeout), nil
	case types.DataKindAggTrades:
		page, err := w.AggTrades.Request(symbol, types.SubKeyDefault, start, end, nil, "cli")
		if err != nil {
			return types.PageStateEmpty, err
		}

		return waitWithBar(page, bar, timeout), nil
	case types.DataKindPremiumIndex:
		page, err := w.PremiumIndex.Request(symbol, subKey, start, end, nil, "cli")
		if err != nil {
			return types.PageStateEmpty, err
		}

		return waitWithBar(page, bar, timeout), nil
	default:
		return types.PageStateEmpty, fmt.Errorf("unsupported data kind %q", kind)
	}
}

// pageStatus is the part of a page the wait loop needs; every typed page
// satisfies it.
type pageStatus interface {
	State() types.PageState
	Progress() int
}

func waitWithBar(page pageStatus, bar *progressbar.ProgressBar, timeout time.Duration) types.PageState {
	deadline := time.Now().Add(timeout)

	for {
		state := page.State()

		if p := page.Progress(); p >= 0 {
			_ = bar.Set(p)
		}

		if state == types.PageStateReady || state == types.PageStateError {
			return state
		}

		if time.Now().After(deadline) {
			return state
		}

		time.Sleep(100 * time.Millisecond)
	}
}

// schemaAction prints the JSON schema of the configuration file.
func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML config file",
	}

	cmd := &cli.Command{
		Name:  "workbench",
		Usage: "Shared market data page cache for strategy backtesting",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the cache with the observability server",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides the config file",
					},
				},
				Action: serveAction,
			},
			{
				Name:  "fetch",
				Usage: "Warm the cache for a symbol and range, persisting to the local store",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "symbol",
						Aliases:  []string{"s"},
						Usage:    "Trading symbol (e.g. BTCUSDT)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Data kind (candles, funding, open_interest, agg_trades, premium_index)",
						Value: string(types.DataKindCandles),
					},
					&cli.StringFlag{
						Name:  "timeframe",
						Usage: "Candle timeframe for candles and premium_index",
						Value: string(types.TimeframeOneHour),
					},
					&cli.TimestampFlag{
						Name:     "start",
						Usage:    "Range start in `YYYY-MM-DD` format",
						Required: true,
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
					&cli.TimestampFlag{
						Name:  "end",
						Usage: "Range end in `YYYY-MM-DD` format. Defaults to today.",
						Value: time.Now(),
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
				},
				Action: fetchAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the config file",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
