package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plot-oracle/internal/compare"
	diffimage "plot-oracle/internal/diff/image"
	"plot-oracle/internal/envconfig"
	"plot-oracle/internal/myhttp"
	"plot-oracle/internal/rasterize"
	"plot-oracle/internal/telemetry"

	"golang.org/x/xerrors"
)

type Server struct {
	address        string
	serve          myhttp.ServeConfig
	maxUploadBytes int64

	backend string
	config  compare.Config
}

func NewServer() (*Server, error) {
	filter, err := diffimage.ParseFilter(envconfig.Value("RESAMPLE_FILTER", string(diffimage.FilterLanczos3)))
	if err != nil {
		return nil, err
	}

	config := compare.DefaultConfig()
	config.Resample = envconfig.Value("RESAMPLE", true)
	config.Filter = filter
	config.HighDifferenceThreshold = envconfig.Value("HIGH_DIFFERENCE_THRESHOLD", config.HighDifferenceThreshold)
	config.MaxPixels = envconfig.Value("MAX_PIXELS", config.MaxPixels)

	return &Server{
		address: envconfig.Value("ADDRESS", "0.0.0.0:8383"),
		serve: myhttp.ServeConfig{
			KeepAlive:              envconfig.Value("HTTP_KEEPALIVE", true),
			MaxConnections:         envconfig.Value("MAX_CONNECTIONS", 65532),
			Lameduck:               envconfig.Value("LAMEDUCK", 1*time.Second),
			TerminationGracePeriod: envconfig.Value("TERMINATION_GRACE_PERIOD", 10*time.Second),
		},
		maxUploadBytes: int64(envconfig.Value("MAX_UPLOAD_BYTES", 32<<20)),
		backend:        envconfig.Value("RASTERIZER_BACKEND", "svg"),
		config:         config,
	}, nil
}

var Debug = false

func (s *Server) Start(ctx context.Context) error {
	logger, err := envconfig.NewLogger(os.Stderr, Debug)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:       "compare-server",
		PyroscopeEndpoint: envconfig.Value("PYROSCOPE_ENDPOINT", ""),
		Tracing:           envconfig.Value("TRACING", true),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "error", err)
		}
	}()

	httpRequestsDurationMicroSeconds, err := tel.Meter.Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		return xerrors.Errorf("failed to create histogram: %w", err)
	}
	metrics, err := newComparisonMetrics(tel.Meter)
	if err != nil {
		return err
	}

	if s.backend == "chromium" {
		if err := rasterize.Install(); err != nil {
			return err
		}
	}
	rasterizeConfig := rasterize.DefaultConfig()
	rasterizeConfig.Timeout = envconfig.Value("RASTERIZE_TIMEOUT", rasterizeConfig.Timeout)
	rasterizeConfig.Playwright.ChromeDevtoolsProtocolURL = envconfig.Value("CHROME_DEVTOOLS_PROTOCOL_URL", "")
	rasterizer, err := rasterize.New(ctx, s.backend, rasterizeConfig)
	if err != nil {
		return xerrors.Errorf("failed to initialize rasterizer: %w", err)
	}

	mux := myhttp.NewServerMux(logger, httpRequestsDurationMicroSeconds)
	mux.HandleWithMiddleware("POST /compare", &compareHandler{
		rasterizer:     rasterizer,
		config:         s.config,
		maxUploadBytes: s.maxUploadBytes,
		metrics:        metrics,
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
	})
	mux.Handle("GET /metrics", tel.MetricsHandler())
	if Debug {
		telemetry.HandleDebug(mux.ServeMux)
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on address %s: %w", s.address, err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	return myhttp.Serve(ctx, listener, mux, s.serve)
}

func main() {
	if err := envconfig.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	flag.BoolVar(&Debug, "debug", envconfig.Value("DEBUG", false), "Enable text logs and pprof endpoints")
	flag.Parse()

	server, err := NewServer()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
