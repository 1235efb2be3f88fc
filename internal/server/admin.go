package server

import (
	"MarketSim/internal/observability"
	"MarketSim/internal/persistence"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// RunLookup resolves stored run summaries. *persistence.RunStore implements it.
type RunLookup interface {
	LoadRun(ctx context.Context, runID string) (*persistence.RunSummary, error)
}

// AdminServer exposes health (gRPC and HTTP), Prometheus metrics and run
// summaries while a simulation is in progress.
type AdminServer struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	health     *observability.HealthChecker
	log        zerolog.Logger
}

// NewAdminServer wires the admin endpoints. runs may be nil.
func NewAdminServer(
	grpcAddr, httpAddr string,
	health *observability.HealthChecker,
	gatherer prometheus.Gatherer,
	runs RunLookup,
	log zerolog.Logger,
) *AdminServer {
	grpcServer := grpc.NewServer()
	health.RegisterGRPC(grpcServer)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if runs != nil {
		mux.HandleFunc("GET /runs/{id}", runHandler(runs))
	}

	return &AdminServer{
		grpcServer: grpcServer,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		health:   health,
		log:      log,
	}
}

// Handler returns the HTTP mux.
func (s *AdminServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// StartGRPC listens on the configured address and serves until ctx is done.
func (s *AdminServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx is done (blocking).
func (s *AdminServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the HTTP endpoints until ctx is done (blocking).
func (s *AdminServer) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runHandler(runs RunLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		summary, err := runs.LoadRun(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, persistence.ErrRunNotFound):
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
			return
		case err != nil:
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(summary)
	}
}
