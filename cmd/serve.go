package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/snowroute/internal/config"
	"github.com/sells-group/snowroute/internal/monitoring"
	"github.com/sells-group/snowroute/internal/report"
	"github.com/sells-group/snowroute/internal/store"
)

var servePort int

// defaultLookbackHours bounds /api/status when no lookback is given.
const defaultLookbackHours = 24

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored run results over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(st, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the HTTP routes. A nil store serves health and metrics
// only; result endpoints answer 503.
func buildRouter(st store.Store, sc config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(sc.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: sc.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if sc.RateLimit > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(sc.RateLimit), sc.RateBurst)))
		}
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if st == nil {
					writeError(w, http.StatusServiceUnavailable, "no result store configured")
					return
				}
				next.ServeHTTP(w, req)
			})
		})

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			hours := defaultLookbackHours
			if v := req.URL.Query().Get("hours"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					writeError(w, http.StatusBadRequest, "hours must be a positive integer")
					return
				}
				hours = n
			}
			snap, err := monitoring.NewCollector(st).Collect(req.Context(), hours)
			if err != nil {
				serverError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Get("/runs/latest", func(w http.ResponseWriter, req *http.Request) {
			run, ok := loadRun(w, req, st, "")
			if ok {
				writeJSON(w, http.StatusOK, report.NewSummary(run))
			}
		})
		r.Get("/runs/latest/routes.geojson", func(w http.ResponseWriter, req *http.Request) {
			run, ok := loadRun(w, req, st, "")
			if ok {
				writeGeoJSON(w, run)
			}
		})
		r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, ok := loadRun(w, req, st, chi.URLParam(req, "id"))
			if ok {
				writeJSON(w, http.StatusOK, report.NewSummary(run))
			}
		})
		r.Get("/runs/{id}/routes.geojson", func(w http.ResponseWriter, req *http.Request) {
			run, ok := loadRun(w, req, st, chi.URLParam(req, "id"))
			if ok {
				writeGeoJSON(w, run)
			}
		})
	})

	return r
}

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// loadRun fetches the run with id, or the latest run when id is empty, and
// writes the error response itself when it cannot.
func loadRun(w http.ResponseWriter, req *http.Request, st store.Store, id string) (*store.Run, bool) {
	var (
		run *store.Run
		err error
	)
	if id == "" {
		run, err = st.LatestRun(req.Context())
	} else {
		run, err = st.GetRun(req.Context(), id)
	}
	if err != nil {
		serverError(w, req, err)
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func writeGeoJSON(w http.ResponseWriter, run *store.Run) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(report.FeatureCollection(run))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, req *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("path", req.URL.Path),
		zap.String("request_id", middleware.GetReqID(req.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
