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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/rendezvous/internal/adapters/http"
	"github.com/dkeye/rendezvous/internal/adapters/rtc"
	wssignal "github.com/dkeye/rendezvous/internal/adapters/signal"
	"github.com/dkeye/rendezvous/internal/app"
	"github.com/dkeye/rendezvous/internal/app/slots"
	"github.com/dkeye/rendezvous/internal/config"
	"github.com/dkeye/rendezvous/internal/metrics"
	handlers "github.com/dkeye/rendezvous/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics.Register(prometheus.DefaultRegisterer)

	servers, err := rtc.ICEServers(cfg.ICEServers, cfg.ICEUsername, cfg.ICECredential)
	if err != nil {
		return err
	}
	ice, err := rtc.Payload(servers)
	if err != nil {
		return err
	}
	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		return err
	}

	alloc := slots.New(cfg.Capacity)
	reg := app.NewRegistry(alloc, app.WithMaxMembers(cfg.MaxRoomMembers), app.WithPolicy(policy))

	ctl := wssignal.NewSignalWSController(alloc, reg, wssignal.NewAdmissionLimiter(cfg.AdmissionLimit, cfg.AdmissionWindow), wssignal.Options{
		PingPeriod: cfg.PingPeriod,
		Timeout:    cfg.ClientTimeout,
		WriteWait:  cfg.WriteWait,
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
		ICE:        ice,
	})

	g, gctx := errgroup.WithContext(ctx)

	r := router.SetupRouter(gctx, cfg, ctl, handlers.NewHandlers(reg, ice))
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The registry outlives the connections so every one of them can disconnect.
	regCtx, stopRegistry := context.WithCancel(context.Background())
	defer stopRegistry()

	g.Go(func() error {
		reg.Run(regCtx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Bool("tls", cfg.TLS()).Int("capacity", cfg.Capacity).Msg("rendezvous server started")
		var err error
		if cfg.TLS() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		// Shutdown does not track hijacked websocket connections; they end
		// with gctx.
		waitConnections(shutdownCtx, ctl)
		stopRegistry()
		return nil
	})

	return g.Wait()
}

func waitConnections(ctx context.Context, ctl *wssignal.SignalWSController) {
	done := make(chan struct{})
	go func() {
		ctl.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all connections closed")
	case <-ctx.Done():
		log.Warn().Msg("connections still open at shutdown deadline")
	}
}
