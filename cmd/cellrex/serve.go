package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cellrex/internal/config"
	"cellrex/internal/core"
	"cellrex/internal/upload"
	"cellrex/pkg/domain"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch uploads, reconcile on a schedule and expose health and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Metrics.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override the metrics listen address")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	cache, err := upload.NewCache(ctx, cfg.CacheConfig())
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	prom := core.NewPrometheusRecorder(nil)
	vars := core.NewExpvarMetricsRecorder("")
	rt, err := openRuntime(ctx, cfg, a.logger,
		core.WithFingerprintCache(cache),
		core.WithMetricsRecorder(core.MultiRecorder{prom, vars}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	var watcher *upload.Watcher
	if cfg.Upload.Watch {
		watcher, err = upload.NewWatcher(cfg.Upload.Dir, cache,
			upload.WithDebounce(cfg.Upload.Debounce),
			upload.WithWorkers(cfg.Upload.Workers),
			upload.WithLogger(a.logger.Named("upload")),
		)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           newMux(rt.svc, prom, uploadDir(cfg)),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	g.Go(func() error {
		a.logger.Info("serving health and metrics", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.Reconcile.OnStartup || cfg.Reconcile.Interval > 0 {
		g.Go(func() error {
			a.sweepLoop(gctx, rt.svc)
			return nil
		})
	}

	return g.Wait()
}

// sweepLoop runs the startup sweep and then one sweep per interval. A failed
// sweep is logged and retried on the next tick.
func (a *app) sweepLoop(ctx context.Context, svc *core.Service) {
	opts := core.ReconcileOptions{Verify: a.cfg.Reconcile.Verify, Restore: a.cfg.Reconcile.Restore}
	sweep := func() {
		if _, err := svc.Reconcile(ctx, opts); err != nil && ctx.Err() == nil {
			a.logger.Error("reconcile failed", "error", err)
		}
	}
	if a.cfg.Reconcile.OnStartup {
		sweep()
	}
	if a.cfg.Reconcile.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.Reconcile.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

type healthResponse struct {
	Status        string       `json:"status"`
	Index         string       `json:"index"`
	LastReconcile *core.Report `json:"lastReconcile,omitempty"`
}

// uploadDir is the directory registrations may source files from, or empty
// when uploads are not watched.
func uploadDir(cfg config.Config) string {
	if !cfg.Upload.Watch {
		return ""
	}
	abs, err := filepath.Abs(cfg.Upload.Dir)
	if err != nil {
		return ""
	}
	return abs
}

// newMux serves /healthz, /metrics and /debug/vars, plus POST /v1/register
// when an upload directory is given.
func newMux(svc *core.Service, prom *core.PrometheusRecorder, uploads string) http.Handler {
	mux := http.NewServeMux()
	if uploads != "" {
		mux.Handle("POST /v1/register", registerHandler(svc, uploads))
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		report, ok, err := svc.Health(r.Context())
		resp := healthResponse{Status: "ok", Index: "ok"}
		code := http.StatusOK
		if ok {
			resp.LastReconcile = &report
			if !report.Clean() {
				resp.Status = "degraded"
			}
		}
		if err != nil {
			resp.Status = "unavailable"
			resp.Index = err.Error()
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
	return mux
}

type registerRequest struct {
	Record domain.MetadataRecord `json:"record"`
	// Source is slash-separated and relative to the upload directory.
	Source string `json:"source"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const maxRegisterBody = 1 << 20

func registerHandler(svc *core.Service, uploads string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		rel := filepath.FromSlash(req.Source)
		if req.Source == "" || !filepath.IsLocal(rel) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "source must be a path inside the upload directory"})
			return
		}
		out, err := svc.Register(r.Context(), req.Record, filepath.Join(uploads, rel))
		if err != nil {
			writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
			return
		}
		code := http.StatusOK
		switch out.Status {
		case core.StatusCreated:
			code = http.StatusCreated
		case core.StatusConflict:
			code = http.StatusConflict
		}
		writeJSON(w, code, out)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = printJSON(w, v)
}
