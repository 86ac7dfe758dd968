// Package workbench assembles the page cache stack: one page manager per
// data kind sharing an event log, metrics and the local store, plus the
// indicator manager and the observability server.
package workbench

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Schwaller/tradery/internal/cache"
	"github.com/Schwaller/tradery/internal/config"
	"github.com/Schwaller/tradery/internal/indicator"
	"github.com/Schwaller/tradery/internal/logger"
	"github.com/Schwaller/tradery/internal/server"
	"github.com/Schwaller/tradery/internal/store"
	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/marketdata"
)

// Workbench owns the full set of page managers and their shared plumbing.
type Workbench struct {
	Candles      *cache.Manager[types.Candle]
	Funding      *cache.Manager[types.FundingRate]
	OpenInterest *cache.Manager[types.OpenInterest]
	AggTrades    *cache.Manager[types.AggTrade]
	PremiumIndex *cache.Manager[types.PremiumIndex]
	Indicators   *cache.IndicatorManager

	Events   *cache.EventLog
	Registry *prometheus.Registry

	log *logger.Logger
	db  *store.DB
	srv *server.Server
}

// New wires a workbench from configuration. Nothing runs until Start.
func New(cfg config.Config, log *logger.Logger) (*Workbench, error) {
	events := cache.NewEventLog(0)
	registry := prometheus.NewRegistry()
	metrics := cache.NewMetrics(registry)

	opts := cache.Options{
		Workers:      cfg.Cache.Workers,
		QueueSize:    cfg.Cache.QueueSize,
		GracePeriod:  cfg.Cache.GracePeriod.Std(),
		FetchTimeout: cfg.Cache.FetchTimeout.Std(),
	}

	var db *store.DB

	if cfg.Store.Path != "" {
		var err error

		db, err = store.Open(cfg.Store.Path, log)
		if err != nil {
			return nil, err
		}
	}

	candleBackend, err := candleBackend(cfg.Providers)
	if err != nil {
		return nil, err
	}

	w := &Workbench{
		Events:   events,
		Registry: registry,
		log:      log,
		db:       db,
	}

	w.Candles = cache.NewManager[types.Candle](
		types.DataKindCandles, candleBackend, kindStore[types.Candle](db, types.DataKindCandles),
		opts, log, events, metrics,
	)
	w.Funding = cache.NewManager[types.FundingRate](
		types.DataKindFunding,
		marketdata.NewBinanceFundingRates(cfg.Providers.BinanceKey, cfg.Providers.BinanceSecret),
		kindStore[types.FundingRate](db, types.DataKindFunding),
		opts, log, events, metrics,
	)
	w.OpenInterest = cache.NewManager[types.OpenInterest](
		types.DataKindOpenInterest,
		marketdata.NewBinanceOpenInterest(cfg.Providers.BinanceKey, cfg.Providers.BinanceSecret),
		kindStore[types.OpenInterest](db, types.DataKindOpenInterest),
		opts, log, events, metrics,
	)
	w.AggTrades = cache.NewManager[types.AggTrade](
		types.DataKindAggTrades,
		marketdata.NewBinanceAggTrades(cfg.Providers.BinanceKey, cfg.Providers.BinanceSecret),
		kindStore[types.AggTrade](db, types.DataKindAggTrades),
		opts, log, events, metrics,
	)
	w.PremiumIndex = cache.NewManager[types.PremiumIndex](
		types.DataKindPremiumIndex,
		marketdata.NewBinancePremiumIndex(cfg.Providers.BinanceKey, cfg.Providers.BinanceSecret),
		kindStore[types.PremiumIndex](db, types.DataKindPremiumIndex),
		opts, log, events, metrics,
	)
	w.Indicators = cache.NewIndicatorManager(w.Candles, indicator.NewRegistry(), log, events)

	return w, nil
}

// Start launches every page manager.
func (w *Workbench) Start(ctx context.Context) {
	w.Candles.Start(ctx)
	w.Funding.Start(ctx)
	w.OpenInterest.Start(ctx)
	w.AggTrades.Start(ctx)
	w.PremiumIndex.Start(ctx)
}

// Serve starts the observability server on addr.
func (w *Workbench) Serve(addr string) error {
	w.srv = server.NewServer(w.Snapshot, w.Events, w.log)

	return w.srv.Start(addr)
}

// ServerAddr returns the bound server address, empty before Serve.
func (w *Workbench) ServerAddr() string {
	if w.srv == nil {
		return ""
	}

	return w.srv.Addr()
}

// Stop shuts the managers, server and store down.
func (w *Workbench) Stop(ctx context.Context) {
	if w.srv != nil {
		if err := w.srv.Stop(ctx); err != nil {
			w.log.Warn("server shutdown failed", zap.Error(err))
		}
	}

	w.Candles.Stop()
	w.Funding.Stop()
	w.OpenInterest.Stop()
	w.AggTrades.Stop()
	w.PremiumIndex.Stop()

	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("store close failed", zap.Error(err))
		}
	}
}

// Snapshot returns the projection of every resident page across all managers,
// derived pages included.
func (w *Workbench) Snapshot() []cache.PageInfo {
	var infos []cache.PageInfo

	infos = append(infos, w.Candles.Snapshot()...)
	infos = append(infos, w.Funding.Snapshot()...)
	infos = append(infos, w.OpenInterest.Snapshot()...)
	infos = append(infos, w.AggTrades.Snapshot()...)
	infos = append(infos, w.PremiumIndex.Snapshot()...)
	infos = append(infos, w.Indicators.Snapshot()...)

	return infos
}

// candleBackend selects the candle provider from configuration.
func candleBackend(p config.ProvidersConfig) (cache.FetchBackend[types.Candle], error) {
	if p.Provider == "polygon" {
		return marketdata.NewPolygonCandles(p.PolygonKey)
	}

	return marketdata.NewBinanceCandles(p.BinanceKey, p.BinanceSecret), nil
}

// kindStore returns a typed store view, or nil when persistence is disabled.
// A plain nil *KindStore must not be returned as a non-nil interface.
func kindStore[R types.Record](db *store.DB, kind types.DataKind) cache.RecordStore[R] {
	if db == nil {
		return nil
	}

	return store.ForKind[R](db, kind)
}
