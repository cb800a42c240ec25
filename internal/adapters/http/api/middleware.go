package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/metrics"
)

// layerOther labels tile queries for layers the service does not know, so a
// client cannot grow the label set.
const layerOther = "other"

// MetricsMiddleware records request count, latency and error kind per endpoint.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		kind := errorKind(rec.status)
		if kind == "" {
			return
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, kind)
		metrics.RecordErrorByType(kind, errorSeverity(rec.status))
		metrics.RecordErrorLatency("http", kind, durationMs)
	}
}

// TileMetricsMiddleware is MetricsMiddleware for /tiles plus a per-layer
// request counter.
func TileMetricsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return MetricsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordTileRequest(tileLayerLabel(r.URL.Query().Get("layer")), strconv.Itoa(rec.status))
	}, "tiles")
}

// errorKind returns the error code the handlers put in the body for status,
// or "" for a success.
func errorKind(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "internal_error"
	case status == http.StatusRequestEntityTooLarge:
		return "too_large"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= http.StatusBadRequest:
		return "bad_request"
	default:
		return ""
	}
}

// errorSeverity is high for server faults and medium for rejected requests.
func errorSeverity(status int) string {
	if status >= http.StatusInternalServerError {
		return "high"
	}
	return "medium"
}

func tileLayerLabel(layer string) string {
	switch model.Layer(layer) {
	case model.LayerDemand, model.LayerSupply:
		return layer
	default:
		return layerOther
	}
}

// statusRecorder remembers the status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	return rec.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
