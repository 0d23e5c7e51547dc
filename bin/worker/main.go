package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"plot-oracle/internal/compare"
	diffimage "plot-oracle/internal/diff/image"
	"plot-oracle/internal/envconfig"
	"plot-oracle/internal/rasterize"
	"plot-oracle/internal/retry"
	"plot-oracle/internal/storage"

	"golang.org/x/xerrors"
)

type WorkerOutput struct {
	Verdict *compare.Verdict `json:"verdict,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type Worker struct {
	Comparer *compare.Comparer
	Storage  storage.Storage
	Logger   *slog.Logger
	Now      func() time.Time
}

// retryingStorage retries storage calls that fail for reasons other than a missing
// object, which covers throttled or flaky S3 endpoints.
type retryingStorage struct {
	storage.Storage
	strategy retry.Strategy
}

func isRetryableStorageError(err error) bool {
	return !errors.Is(err, fs.ErrNotExist)
}

func (s *retryingStorage) Get(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, s.strategy, isRetryableStorageError, func(ctx context.Context) error {
		d, err := s.Storage.Get(ctx, url)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	return data, err
}

func (s *retryingStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	var path string
	err := retry.Do(ctx, s.strategy, isRetryableStorageError, func(ctx context.Context) error {
		p, err := s.Storage.Put(ctx, key, data)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	return path, err
}

func main() {
	if err := envconfig.Load(); err != nil {
		log.Fatalf("failed to load environment: %v", err)
	}

	var backend string
	var chromeDevtoolsProtocolURL string
	var filter string
	var resample bool
	var storageBackend string
	var callbackURL string
	var retryOn string
	flag.StringVar(&backend, "backend", envconfig.Value("RASTERIZER_BACKEND", "svg"), "Rasterizer backend (svg or chromium or raster)")
	flag.StringVar(&chromeDevtoolsProtocolURL, "chrome-devtools-protocol-url", envconfig.Value("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	flag.StringVar(&filter, "filter", envconfig.Value("RESAMPLE_FILTER", string(diffimage.FilterLanczos3)), "Resample filter (lanczos3 or catmull-rom or bilinear)")
	flag.BoolVar(&resample, "resample", envconfig.Value("RESAMPLE", true), "Resample the target to the baseline size when they differ")
	flag.StringVar(&storageBackend, "storage-backend", envconfig.Value("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	flag.StringVar(&callbackURL, "callback-url", envconfig.Value("CALLBACK_URL", ""), "Callback URL to send results to")
	flag.StringVar(&retryOn, "retry-on", envconfig.Value("RETRY_ON", "gateway-error,connect-failure,retriable-4xx,429"), "Conditions under which the callback is retried")

	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		os.Exit(1)
	}

	ctx := context.Background()

	logger, err := envconfig.NewLogger(os.Stderr, false)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	on, err := retry.NewRetryOnFromString(retryOn)
	if err != nil {
		log.Fatalf("invalid retry-on: %v", err)
	}

	f, err := diffimage.ParseFilter(filter)
	if err != nil {
		log.Fatalf("invalid filter: %v", err)
	}

	if backend == "chromium" {
		if err := rasterize.Install(); err != nil {
			log.Fatalf("%v", err)
		}
	}

	rasterizeConfig := rasterize.DefaultConfig()
	rasterizeConfig.Playwright.ChromeDevtoolsProtocolURL = chromeDevtoolsProtocolURL
	rasterizer, err := rasterize.New(ctx, backend, rasterizeConfig)
	if err != nil {
		log.Fatalf("failed to initialize rasterizer: %v", err)
	}

	s, err := storage.New(ctx, storageBackend)
	if err != nil {
		log.Fatalf("failed to create storage backend: %v", err)
	}

	config := compare.DefaultConfig()
	config.Filter = f
	config.Resample = resample
	config.MaxPixels = envconfig.Value("MAX_PIXELS", config.MaxPixels)

	comparer := compare.NewComparer(rasterizer, config)
	comparer.Logger = logger

	worker := &Worker{
		Comparer: comparer,
		Storage: &retryingStorage{
			Storage:  s,
			strategy: retry.NewExponentialBackOff(100*time.Millisecond, 5*time.Second, 3, nil),
		},
		Logger: logger,
	}

	result, processErr := worker.process(ctx, args[0], args[1])

	j, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal result: %v", err)
	}

	if callbackURL == "" {
		fmt.Println(string(j))
	} else {
		client := &http.Client{
			Timeout: 10 * time.Second,
			Transport: &retry.Transport{
				Base:          http.DefaultTransport,
				RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
				RetryOn:       on,
			},
		}
		if err := callback(ctx, client, callbackURL, j); err != nil {
			log.Fatalf("failed to send callback: %v", err)
		}
	}

	if processErr != nil {
		os.Exit(1)
	}
}

// process compares the documents stored at baseline and target and uploads the
// rasterized inputs and the difference image next to each other. The output always
// carries whatever verdict was produced, even when the comparison failed.
func (w *Worker) process(ctx context.Context, baseline string, target string) (*WorkerOutput, error) {
	verdict, err := w.Comparer.CompareRefs(ctx, w.Storage, baseline, target)
	if err != nil {
		w.logger().Error("failed to compare documents", "baseline", baseline, "target", target, "error", err)
		return &WorkerOutput{Verdict: verdict, Error: err.Error()}, err
	}

	if err := compare.SaveArtifacts(ctx, w.Storage, verdict, w.now()); err != nil {
		err = xerrors.Errorf("failed to upload artifacts: %w", err)
		return &WorkerOutput{Verdict: verdict, Error: err.Error()}, err
	}

	w.logger().Info("comparison finished",
		"baseline", baseline,
		"target", target,
		"similarity", string(verdict.Similarity),
		"resized", verdict.Resized,
		"failedStages", len(verdict.Failed()),
	)

	return &WorkerOutput{Verdict: verdict}, nil
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func callback(ctx context.Context, client *http.Client, callbackURL string, data []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPatch, callbackURL, bytes.NewReader(data))
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode >= 400 {
		return xerrors.Errorf("callback responded with %s", response.Status)
	}
	return nil
}
