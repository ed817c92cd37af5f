package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Pairing/internal/adapters/http"
	wssignal "github.com/dkeye/Pairing/internal/adapters/signal"
	"github.com/dkeye/Pairing/internal/app"
	"github.com/dkeye/Pairing/internal/app/orch"
	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/config"
	"github.com/dkeye/Pairing/internal/metrics"
	"github.com/dkeye/Pairing/internal/store"
)

const janitorPeriod = time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		// JSON lines for log shipping.
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	clk := clock.Real{}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	codes, err := openStore(ctx, cfg, clk)
	if err != nil {
		return err
	}
	defer codes.Close()

	var policy app.Policy = app.SimplePolicy{}
	if cfg.Backpressure == "drop" {
		policy = app.TolerantPolicy{}
	}
	o := orch.New(app.NewRoomManager(clk), policy, m, clk)
	limiter := wssignal.NewJoinRateLimiter(cfg.JoinRate.Limit, cfg.JoinRate.Interval, clk)

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Store: codes, Metrics: m, Limiter: limiter})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Pairing relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		janitor(gctx, limiter, codes)
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, c clock.Clock) (store.CodeStore, error) {
	switch cfg.Store.Driver {
	case "redis":
		return store.NewRedis(ctx, cfg.Store.RedisURL)
	default:
		return store.NewMemory(c), nil
	}
}

// janitor drops expired rate limit windows and code reservations.
func janitor(ctx context.Context, limiter *wssignal.JoinRateLimiter, codes store.CodeStore) {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := limiter.Sweep()
			if mem, ok := codes.(*store.Memory); ok {
				n += mem.Sweep()
			}
			if n > 0 {
				log.Debug().Str("module", "janitor").Int("removed", n).Msg("swept")
			}
		}
	}
}
