package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Guilhem-Bonnet/subcapture/internal/adapters/httpapi"
	"github.com/Guilhem-Bonnet/subcapture/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/subcapture/internal/adapters/proxy"
	"github.com/Guilhem-Bonnet/subcapture/internal/adapters/redisstore"
	"github.com/Guilhem-Bonnet/subcapture/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/subcapture/internal/app"
	"github.com/Guilhem-Bonnet/subcapture/internal/buildinfo"
	"github.com/Guilhem-Bonnet/subcapture/internal/config"
	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/interceptor"
	"github.com/Guilhem-Bonnet/subcapture/internal/metrics"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
	"github.com/Guilhem-Bonnet/subcapture/internal/relay"
)

func main() {
	def, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	addr := flag.String("addr", def.Addr, "Adresse d'écoute de l'API (ex: 127.0.0.1:8080)")
	proxyAddr := flag.String("proxy", def.ProxyAddr, "Adresse d'écoute du proxy intercepteur (vide = désactivé)")
	storeKind := flag.String("store", def.Store, "Stockage durable: sqlite ou redis")
	dbPath := flag.String("db", def.DBPath, "Chemin SQLite (ex: subcap.db)")
	redisAddr := flag.String("redis", def.RedisAddr, "Adresse Redis (ex: 127.0.0.1:6379)")
	flag.Parse()

	level, err := zerolog.ParseLevel(def.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("app", "subcap-server").Logger()
	log.Logger = logger

	logger.Info().Interface("build", buildinfo.Current()).Str("store", *storeKind).Msg("starting")

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(shutdownCtx, *storeKind, *dbPath, *redisAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("store", *storeKind).Msg("failed to open store")
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := memorybus.New()
	defer bus.Close()

	cache := app.NewCacheManager(logger, store, def.CacheTTL)
	cache.Metrics = m
	history := app.NewHistoryManager(logger, store, domain.DefaultSettings().HistoryMaxSize)
	history.Metrics = m
	dispatcher := app.NewDispatcher(logger, cache, history, bus)
	dispatcher.Metrics = m

	ic := interceptor.New(interceptor.Options{
		Logger:       logger,
		Metrics:      m,
		MaxBodyBytes: def.MaxBodyBytes,
		RefetchRPS:   def.RefetchRPS,
	})
	defer ic.Notifier().Close()

	// Réglages runtime: appliqués à chaud à l'historique et à la gate.
	settingsSvc := app.NewSettingsService(store)
	settingsSvc.OnChange(func(ctx context.Context, s domain.Settings) {
		history.SetMaxSize(ctx, s.HistoryMaxSize)
		ic.SetMaxConcurrentExtractions(s.MaxConcurrentExtractions)
	})
	if _, err := settingsSvc.Apply(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to load settings, using defaults")
	}

	sweeper, err := app.NewCacheSweeper(logger, cache, def.SweepCron)
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", def.SweepCron).Msg("invalid sweep schedule")
	}
	logger.Info().Dur("cache_ttl", cache.TTL()).Str("sweep", def.SweepCron).Msg("cache ready")

	api := httpapi.NewServer(logger, httpapi.Deps{
		Dispatcher:  dispatcher,
		Settings:    settingsSvc,
		Interceptor: ic,
		Bus:         bus,
		Metrics:     m,
		Gatherer:    reg,
		CORSOrigins: def.CORSOrigins,
	})
	servers := []*http.Server{{
		Addr:              *addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if *proxyAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              *proxyAddr,
			Handler:           proxy.New(logger, ic, nil).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, ctx := errgroup.WithContext(shutdownCtx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error {
		// Les captures de l'intercepteur (proxy, observe) rejoignent le cœur en process.
		n := relay.New(logger, ic.Notifier().C(), relay.DispatcherForwarder(dispatcher)).Run(ctx)
		logger.Info().Int("forwarded", n).Msg("relay stopped")
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(sctx)
		}
		ic.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server crashed")
	}
	logger.Info().Msg("bye")
}

func openStore(ctx context.Context, kind, dbPath, redisAddr string) (ports.KVStore, func(), error) {
	switch kind {
	case "redis":
		s, err := redisstore.Open(ctx, redisAddr)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sqlite", "":
		db, err := sqlite.Open(ctx, dbPath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewKVStore(db.SQL), func() { _ = db.Close() }, nil
	default:
		return nil, nil, errors.New("unknown store " + kind)
	}
}
