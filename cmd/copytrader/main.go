package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"copytrader-go/internal/config"
	"copytrader-go/internal/copytrade"
	"copytrader-go/internal/derivws"
	"copytrader-go/internal/httpapi"
	"copytrader-go/internal/journal"
	"copytrader-go/internal/metrics"
	"copytrader-go/internal/signal"
	"copytrader-go/internal/store"
	"copytrader-go/internal/strategy"
	"copytrader-go/internal/util"
	"copytrader-go/internal/widget"
)

const defaultConfigPath = "config.yaml"

func configPath() string {
	if p := os.Getenv("COPYTRADER_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func main() {
	config.LoadEnv()
	cfg, err := config.Load(configPath())
	if err != nil {
		l := util.NewLogger("info")
		l.Fatal().Err(err).Msg("load config")
	}
	config.ApplyEnv(cfg)
	log := util.NewLogger(cfg.App.LogLevel)

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	endpoint, err := derivws.Endpoint(cfg.Deriv.Endpoint, cfg.Deriv.AppID)
	if err != nil {
		log.Fatal().Err(err).Msg("platform endpoint")
	}
	dial := func(ctx context.Context) (copytrade.Conn, error) {
		client, err := derivws.Dial(ctx, endpoint,
			derivws.WithLogger(log),
			derivws.WithRequestTimeout(cfg.Deriv.RequestTimeout()))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	var platform copytrade.Conn
	if client, err := openPlatform(ctx, dial, cfg.Deriv.APIToken); err != nil {
		log.Error().Err(err).Msg("platform session unavailable; copy trading will refuse to start")
	} else {
		platform = client
		defer client.Close()
		go func() {
			select {
			case <-client.Done():
				log.Error().Msg("platform session closed; restart the service to copy again")
			case <-ctx.Done():
			}
		}()
	}

	recorders := []journal.Recorder{}
	if cfg.Copy.JournalPath != "" {
		rec, err := journal.NewJSONLRecorder(cfg.Copy.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Copy.JournalPath).Msg("open trade journal")
		}
		defer rec.Close()
		recorders = append(recorders, rec)
	}
	recorder := journal.Multi(recorders...)

	controller := copytrade.NewController(platform, dial, log,
		copytrade.WithJournal(recorder),
		copytrade.WithConnectTimeout(time.Duration(cfg.Copy.ConnectTimeoutMs)*time.Millisecond),
		copytrade.WithSweepInterval(time.Duration(cfg.Copy.SweepIntervalMs)*time.Millisecond),
		copytrade.WithCurrency(cfg.Deriv.Currency),
	)

	var tokens httpapi.TokenStore
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("open store")
		}
		defer st.Close()
		tokens = st
	}

	var signals httpapi.SignalSource
	if cfg.Signal.Enabled && platform != nil {
		board := signal.NewBoard(cfg.Signal.BoardSize, nil)
		go board.Run(ctx)
		strat := strategy.Build(cfg.Signal.Mode, cfg.Signal.Params.Strategy())
		w := widget.New(platform, strat, board, cfg.Signal.Widget(cfg.Deriv.Currency), log, widget.WithJournal(recorder))
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("signal widget stopped")
			}
		}()
		signals = w
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		snapshots := metrics.NewSnapshotStore(rdb, cfg.Redis.Key)
		go snapshots.Publish(ctx, time.Duration(cfg.Redis.PublishIntervalMs)*time.Millisecond, log, func() any {
			return controller.DetailedStatistics()
		})
	}

	if cfg.Copy.AutoStart {
		if err := controller.Start(ctx, cfg.Copy.Session()); err != nil {
			log.Error().Err(err).Msg("auto start failed")
		}
	}

	handler := httpapi.NewHandler(controller, tokens, signals, log)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(handler, httpapi.Auth{Username: cfg.HTTP.Username, Password: cfg.HTTP.Password}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()
	log.Info().Str("addr", cfg.HTTP.Addr).Msg("copy trader up")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if result := controller.Stop(); !result.Success {
		log.Warn().Str("message", result.Message).Msg("stop reported errors")
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}

// openPlatform dials the primary session and logs in when a token is configured.
func openPlatform(ctx context.Context, dial copytrade.DialFunc, token string) (copytrade.Conn, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return conn, nil
	}
	if _, err := conn.Call(ctx, derivws.Request{"authorize": token}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
