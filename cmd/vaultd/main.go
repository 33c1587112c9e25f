// Command vaultd is the memory vault's long-running server: it loads
// configuration, boots internal/vault via vault.FromConfig, starts the
// scheduler, and exposes a small HTTP surface. Grounded on the teacher's
// cmd/agentd (config load -> collaborator construction -> mux -> graceful
// shutdown via signal.NotifyContext).
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"osqr/internal/httpapi"
	"osqr/internal/observability"
	"osqr/internal/telemetry"
	"osqr/internal/vault"
	"osqr/internal/vconfig"
	"osqr/internal/version"
)

func main() {
	cfg, err := vconfig.Load()
	if err != nil {
		panic(err)
	}

	observability.InitLogger("", cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Msg("vaultd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Observability.OTelEndpoint != "",
		Endpoint:    cfg.Observability.OTelEndpoint,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry setup failed, continuing without tracing")
	} else {
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	shutdownMetrics, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		OTLPEndpoint:   cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Env,
	})
	if err != nil {
		log.Warn().Err(err).Msg("metrics setup failed, continuing without host metrics")
	} else {
		defer func() { _ = shutdownMetrics(context.Background()) }()
	}

	v := vault.FromConfig(ctx, cfg)
	v.StartScheduler(ctx)
	defer v.StopScheduler()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: buildMux(v)}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("vaultd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("vaultd http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("vaultd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildMux layers the vault's REST API (internal/httpapi) under two bare
// operational endpoints a load balancer polls directly.
func buildMux(v *vault.Vault) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		status := v.GetSchedulerStatus()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/api/", httpapi.NewServer(v))
	return mux
}
