package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/Siddhant-K-code/identd/pkg/session"
	"github.com/Siddhant-K-code/identd/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve the identity engine over HTTP. Foreign visitors, the cache and
background promotion live for as long as the server runs.

Endpoints:
  POST /v1/resolve              resolve an utterance
  GET  /v1/identities           list identities (?tier=)
  GET|PATCH|DELETE /v1/identities/{id}
  POST /v1/identities/stub      seed a stub
  POST /v1/identities/merge     merge two identities
  POST /v1/trust                add a trust link
  POST /v1/trust/update         change link strength
  GET  /v1/trust/{id}           list links (?relationship=)
  GET  /v1/cache/metrics        cache counters
  POST /v1/cache/clear          clear the cache
  POST /v1/cleanup              run a cleanup pass now
  POST /v1/sessions/lock        lock a session
  POST /v1/sessions/unlock      unlock a session
  GET|DELETE /v1/sessions/{id}
  GET  /healthz, /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().String("session-db", "", "session store path (default: session.db_path)")
	serveCmd.Flags().String("traces", "", "trace exporter: none, stdout or otlp")
	serveCmd.Flags().String("otlp-endpoint", "", "OTLP gRPC endpoint")

	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("session.db_path", serveCmd.Flags().Lookup("session-db"))
	_ = viper.BindPFlag("telemetry.traces", serveCmd.Flags().Lookup("traces"))
	_ = viper.BindPFlag("telemetry.otlp_endpoint", serveCmd.Flags().Lookup("otlp-endpoint"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, viper.GetString("telemetry.traces"), viper.GetString("telemetry.otlp_endpoint"))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("trace shutdown", zap.Error(err))
		}
	}()

	reg := telemetry.NewRegistry()
	engine, err := openEngine(ctx, logger, reg)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	sessions, err := openSessionStore("", logger)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	addr := viper.GetString("server.addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           newAPIHandler(engine, sessions, logger, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	engine.Wait()
	return nil
}

// newAPIHandler builds the full HTTP surface on a fresh mux.
func newAPIHandler(engine *profile.Engine, sessions session.Store, logger *zap.Logger, reg *prometheus.Registry) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	if sessions != nil {
		sessions = session.NewCachedStore(sessions, engine.Cache(), logger)
	}
	mux := http.NewServeMux()
	mw := newHTTPMiddleware(logger.Named("http"), registerer)

	ids := &IdentityAPI{engine: engine, sessions: sessions}
	ids.RegisterIdentityRoutes(mux, mw)

	sess := &SessionAPI{store: sessions, engine: engine}
	sess.RegisterSessionRoutes(mux, mw)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// newHTTPMiddleware returns the per-route wrapper: request counting,
// latency histogram and a debug access log.
func newHTTPMiddleware(logger *zap.Logger, reg prometheus.Registerer) func(string, http.HandlerFunc) http.HandlerFunc {
	factory := promauto.With(reg)
	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "identd_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	latency := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identd_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	return func(route string, next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next(rec, r)
			elapsed := time.Since(start)

			requests.WithLabelValues(route, fmt.Sprint(rec.status)).Inc()
			latency.WithLabelValues(route).Observe(elapsed.Seconds())
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", elapsed),
			)
		}
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrNotFound),
		errors.Is(err, identity.ErrLinkNotFound),
		errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrTierConflict):
		return http.StatusConflict
	case errors.Is(err, identity.ErrInvalidID),
		errors.Is(err, session.ErrInvalidSession):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
