package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/capability"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/eventstore"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/loqalabs/loqa-stt/internal/recognizer"
	"github.com/loqalabs/loqa-stt/internal/stt"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	ready     atomic.Bool
	recognize atomic.Pointer[stt.Handler]

	// openEngine loads the transducer model. Tests replace it.
	openEngine func(context.Context, config.STTConfig, *slog.Logger) (stt.Recognizer, capability.Capability, func() error, error)
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		openEngine: openTDT,
	}
}

// Start runs the node until ctx is cancelled or a component fails. The node
// reports ready only once the recognition backend is loaded and listening.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, client, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	defer registry.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/recognize", r.handleRecognize)

	servers := []*http.Server{{
		Addr:              fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			r.logger.Info("http server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	var service *stt.Service
	var closeEngine func() error
	g.Go(func() error {
		rec, capab, closer, err := r.openBackend(gctx)
		if err != nil {
			return err
		}
		closeEngine = closer

		service = stt.NewService(gctx, r.cfg.STT, client, rec, store, r.logger)
		if err := service.Start(); err != nil {
			return err
		}
		r.recognize.Store(stt.NewHandler(rec, store, r.logger))
		if err := registry.Advertise(capab); err != nil {
			r.logger.Warn("failed to advertise transcriber", slog.String("error", err.Error()))
		}
		r.ready.Store(true)
		r.logger.Info("runtime ready", slog.String("mode", r.cfg.STT.Mode))
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	err = g.Wait()
	if service != nil {
		service.Close()
	}
	if closeEngine != nil {
		if cerr := closeEngine(); cerr != nil {
			r.logger.Error("engine close error", slog.String("error", cerr.Error()))
		}
	}
	return err
}

func (r *Runtime) openBackend(ctx context.Context) (stt.Recognizer, capability.Capability, func() error, error) {
	if r.cfg.STT.Mode == "mock" {
		r.logger.Warn("stt running in mock mode")
		return stt.NewMockRecognizer(), capability.TranscriberCapability("mock", "cpu", 0), nil, nil
	}
	rec, capab, closer, err := r.openEngine(ctx, r.cfg.STT, r.logger)
	if err != nil {
		attrs := []any{slog.String("error", err.Error()), slog.String("model_dir", r.cfg.STT.ModelDir)}
		if recognizer.IsLoadError(err) {
			r.logger.Error("model files could not be loaded", attrs...)
		}
		return nil, capability.Capability{}, nil, fmt.Errorf("load recognizer: %w", err)
	}
	return rec, capab, closer, nil
}

func openTDT(ctx context.Context, cfg config.STTConfig, logger *slog.Logger) (stt.Recognizer, capability.Capability, func() error, error) {
	opts, err := recognizer.OptionsFromConfig(cfg)
	if err != nil {
		return nil, capability.Capability{}, nil, err
	}
	engine, err := recognizer.Open(ctx, opts, logger)
	if err != nil {
		return nil, capability.Capability{}, nil, err
	}
	info := engine.Info()
	return stt.NewTDTRecognizer(engine), capability.TranscriberCapability(info.Variant, info.Device, info.MelBins), engine.Close, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleRecognize(w http.ResponseWriter, req *http.Request) {
	h := r.recognize.Load()
	if h == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model loading"))
		return
	}
	h.ServeHTTP(w, req)
}
