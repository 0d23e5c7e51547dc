package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"plot-oracle/internal/compare"
	diffimage "plot-oracle/internal/diff/image"
	"plot-oracle/internal/myhttp"
	"plot-oracle/internal/rasterize"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/xerrors"
)

type comparisonMetrics struct {
	duration         metric.Float64Histogram
	percentDifferent metric.Float64Histogram
	stageFailures    metric.Int64Counter
}

func newComparisonMetrics(meter metric.Meter) (*comparisonMetrics, error) {
	duration, err := meter.Float64Histogram("comparison_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	percentDifferent, err := meter.Float64Histogram("comparison_percent_different",
		metric.WithExplicitBucketBoundaries(0.1, 1, 5, 10, 25, 50, 100))
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	stageFailures, err := meter.Int64Counter("comparison_stage_failures_total")
	if err != nil {
		return nil, xerrors.Errorf("failed to create counter: %w", err)
	}

	return &comparisonMetrics{
		duration:         duration,
		percentDifferent: percentDifferent,
		stageFailures:    stageFailures,
	}, nil
}

type CompareResponse struct {
	Verdict  *compare.Verdict `json:"verdict,omitempty"`
	DiffData string           `json:"diffData,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type compareHandler struct {
	rasterizer     rasterize.Rasterizer
	config         compare.Config
	maxUploadBytes int64
	metrics        *comparisonMetrics
}

func (h *compareHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := myhttp.Logger(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, CompareResponse{Error: err.Error()})
		return
	}

	baseline, err := readDocument(r, "baseline")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CompareResponse{Error: err.Error()})
		return
	}
	target, err := readDocument(r, "target")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CompareResponse{Error: err.Error()})
		return
	}

	config := h.config
	if config.Width, err = formInt(r, "width", config.Width); err != nil {
		writeJSON(w, http.StatusBadRequest, CompareResponse{Error: err.Error()})
		return
	}
	if config.Height, err = formInt(r, "height", config.Height); err != nil {
		writeJSON(w, http.StatusBadRequest, CompareResponse{Error: err.Error()})
		return
	}
	if err := config.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, CompareResponse{Error: err.Error()})
		return
	}

	comparer := compare.NewComparer(h.rasterizer, config)
	comparer.Logger = logger

	now := time.Now()
	verdict, err := comparer.Compare(r.Context(), baseline, target)
	h.record(r, verdict, time.Since(now))
	if err != nil {
		logger.Warn("comparison failed", "baseline", baseline.Name, "target", target.Name, "error", err)
		writeJSON(w, statusFor(err), CompareResponse{Verdict: verdict, Error: err.Error()})
		return
	}

	response := CompareResponse{Verdict: verdict}
	if verdict.DiffBitmap != nil {
		data, err := compare.EncodePNG(verdict.DiffBitmap)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, CompareResponse{Error: err.Error()})
			return
		}
		response.DiffData = base64.StdEncoding.EncodeToString(data)
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *compareHandler) record(r *http.Request, v *compare.Verdict, elapsed time.Duration) {
	if h.metrics == nil || v == nil {
		return
	}
	ctx := r.Context()

	h.metrics.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.Bool("resized", v.Resized),
	))
	if v.Metrics != nil {
		h.metrics.percentDifferent.Record(ctx, v.Metrics.PercentDifferent, metric.WithAttributes(
			attribute.String("similarity", string(v.Similarity)),
		))
	}
	for _, stage := range v.Failed() {
		h.metrics.stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	}
}

func statusFor(err error) int {
	var unreadable *compare.UnreadableInputError
	var rasterization *rasterize.RasterizationError
	var mismatch *diffimage.DimensionMismatchError
	switch {
	case errors.As(err, &unreadable):
		return http.StatusBadRequest
	case errors.As(err, &rasterization), errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func readDocument(r *http.Request, field string) (rasterize.Document, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return rasterize.Document{}, &compare.UnreadableInputError{Document: field, Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return rasterize.Document{}, &compare.UnreadableInputError{Document: field, Err: err}
	}
	if len(data) == 0 {
		return rasterize.Document{}, &compare.UnreadableInputError{Document: field, Err: xerrors.New("document is empty")}
	}

	return rasterize.Document{
		Name: documentName(field, header),
		Data: data,
	}, nil
}

func documentName(field string, header *multipart.FileHeader) string {
	if header != nil && header.Filename != "" {
		return header.Filename
	}
	return field
}

func formInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.FormValue(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil || i <= 0 {
		return 0, xerrors.Errorf("invalid %s: %q", key, value)
	}
	return i, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
