package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"dscengine/core/events"
	"dscengine/crypto"
	nativecommon "dscengine/native/common"
	"dscengine/native/dsc"
	pricefeed "dscengine/native/oracle"
	"dscengine/native/token"
	"dscengine/observability"
	"dscengine/services/dscd/config"
	dscoracle "dscengine/services/dscd/oracle"
	"dscengine/services/dscd/server"
	dscstorage "dscengine/services/dscd/storage"
	"dscengine/storage"
)

const defaultEngineLabel = "dsc-engine"

// App wires the engine, its collaborators and the HTTP surface together.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	db         storage.Database
	audit      *dscstorage.Storage
	collateral []*token.Token
	debt       *token.Token
	feeds      []*pricefeed.Feed
	engine     *dsc.Engine
	pauses     *nativecommon.PauseSet
	manager    *dscoracle.Manager
	server     *server.Server
	metrics    *observability.DSCMetrics
}

// New builds every component described by cfg. The returned App owns the
// state database and must be closed.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger, metrics: observability.DSC(), pauses: nativecommon.NewPauseSet()}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	operator, err := cfg.OperatorAccount()
	if err != nil {
		return fmt.Errorf("engine operator: %w", err)
	}
	engineAddr := crypto.DeriveAddress(crypto.AccountPrefix, defaultEngineLabel)
	if cfg.Engine.Address != "" {
		if engineAddr, err = crypto.ParseAccount(cfg.Engine.Address); err != nil {
			return fmt.Errorf("engine address: %w", err)
		}
	}

	if cfg.StatePath != "" {
		ldb, err := storage.NewLevelDB(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("open state: %w", err)
		}
		a.db = ldb
	} else {
		a.logger.Warn("dscd: no state path configured, ledger is held in memory")
		a.db = storage.NewMemDB()
	}

	if cfg.DatabaseDSN != "" {
		if a.audit, err = dscstorage.Open(cfg.DatabaseDSN); err != nil {
			return err
		}
	}

	feedsByPair := make(map[string]*pricefeed.Feed)
	assets := make([]crypto.Address, 0, len(cfg.Collateral))
	feeds := make([]dsc.PriceFeed, 0, len(cfg.Collateral))
	bound := make(map[crypto.Address]dsc.Asset, len(cfg.Collateral))
	for _, asset := range cfg.Collateral {
		addr, err := assetAddress(asset.Address, asset.Symbol)
		if err != nil {
			return fmt.Errorf("collateral %s: %w", asset.Symbol, err)
		}
		tok := token.New(asset.Symbol, addr, asset.Decimals, operator)
		if err := a.restore(tok); err != nil {
			return err
		}
		feed, ok := feedsByPair[asset.Pair]
		if !ok {
			feed = pricefeed.NewFeed(asset.Pair)
			if asset.InitialPrice != "" {
				price, err := pricefeed.ParsePrice(asset.InitialPrice)
				if err != nil {
					return fmt.Errorf("collateral %s: %w", asset.Symbol, err)
				}
				feed.Update(price)
			}
			feedsByPair[asset.Pair] = feed
			a.feeds = append(a.feeds, feed)
		}
		a.collateral = append(a.collateral, tok)
		assets = append(assets, addr)
		feeds = append(feeds, feed)
		bound[addr] = token.Bind(tok, engineAddr)
		a.metrics.SetAssetLabel(addr, asset.Symbol)
	}

	debtAddr, err := assetAddress(cfg.DebtToken.Address, cfg.DebtToken.Symbol)
	if err != nil {
		return fmt.Errorf("debt token: %w", err)
	}
	a.debt = token.New(cfg.DebtToken.Symbol, debtAddr, cfg.DebtToken.Decimals, engineAddr)
	if err := a.restore(a.debt); err != nil {
		return err
	}

	emitters := events.MultiEmitter{a.metrics}
	if a.audit != nil {
		emitters = append(emitters, dscstorage.NewEmitter(a.audit, a.logger))
	}
	if cfg.Engine.Paused {
		a.pauses.SetPaused(dsc.ModuleName, true)
	}
	a.engine, err = dsc.NewEngine(engineAddr, assets, feeds, bound, token.Bind(a.debt, engineAddr), dsc.NewKVStore(a.db),
		dsc.WithLogger(a.logger),
		dsc.WithPauses(a.pauses),
		dsc.WithEmitter(emitters),
		dsc.WithObserver(a.metrics),
		dsc.WithStalenessTimeout(cfg.Engine.StalenessTimeout.Duration),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if len(cfg.Oracle.Sources) > 0 {
		sources, err := dscoracle.Build(cfg.Oracle.Sources, nil)
		if err != nil {
			return err
		}
		opts := []dscoracle.Option{
			dscoracle.WithLogger(a.logger),
			dscoracle.WithMetrics(observability.Oracle()),
		}
		if a.audit != nil {
			opts = append(opts, dscoracle.WithRecorder(a.audit))
		}
		a.manager, err = dscoracle.New(sources, a.feeds, cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds, opts...)
		if err != nil {
			return fmt.Errorf("build oracle manager: %w", err)
		}
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, a.logger)
	if err != nil {
		return err
	}
	a.server, err = server.New(server.Config{
		Engine:      a.engine,
		Collateral:  a.collateral,
		Debt:        a.debt,
		Auth:        auth,
		RateLimiter: server.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Sequencer:   server.NewSequencer(a.saveTokens, a.logger),
		Pauses:      a.pauses,
		Operator:    operator,
		Events:      a.audit,
		Metrics:     a.metrics,
		Logger:      a.logger,
	})
	return err
}

// Engine exposes the configured engine.
func (a *App) Engine() *dsc.Engine { return a.engine }

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Collateral returns the collateral tokens in configuration order.
func (a *App) Collateral() []*token.Token { return append([]*token.Token(nil), a.collateral...) }

// Debt returns the synthetic dollar token.
func (a *App) Debt() *token.Token { return a.debt }

// Run serves HTTP and polls oracles until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.ListenAddress, err)
	}
	httpServer := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if a.manager != nil {
		go func() {
			if err := a.manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("dscd: oracle manager stopped", "error", err)
			}
		}()
	}
	go a.reportTotals(ctx)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("dscd: listening", "address", listener.Addr().String())
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("dscd: shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("dscd: forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// reportTotals refreshes the system gauges on the oracle interval.
func (a *App) reportTotals(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Oracle.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_ = a.server.Sequencer().Read(func() error {
			collateralUSD, debt, err := a.engine.SystemTotals()
			if err != nil {
				a.logger.Debug("dscd: system totals unavailable", "error", err)
				return err
			}
			a.metrics.RecordSystemTotals(collateralUSD, debt)
			return nil
		})
	}
}

// Close persists token state and releases databases.
func (a *App) Close() {
	if a.db != nil {
		if a.debt != nil {
			if err := a.saveTokens(); err != nil {
				a.logger.Error("dscd: save tokens", "error", err)
			}
		}
		a.db.Close()
		a.db = nil
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Error("dscd: close audit store", "error", err)
		}
		a.audit = nil
	}
}

func (a *App) saveTokens() error {
	for _, tok := range append(a.Collateral(), a.debt) {
		if err := tok.Save(a.db); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) restore(tok *token.Token) error {
	found, err := tok.Load(a.db)
	if err != nil {
		return fmt.Errorf("restore %s: %w", tok.Symbol(), err)
	}
	if found {
		a.logger.Info("dscd: restored token state", "token", tok.Symbol(), "supply", tok.TotalSupply().String())
	}
	return nil
}

func assetAddress(raw, symbol string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.DeriveAddress(crypto.AssetPrefix, strings.ToLower(symbol)), nil
	}
	return crypto.ParseAddress(raw, crypto.AssetPrefix)
}
