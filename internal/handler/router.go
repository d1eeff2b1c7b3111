package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/efreitasn/exchangecore/internal/metrics"
	"github.com/efreitasn/exchangecore/internal/service"
)

// NewRouter creates the ops router: health, prometheus metrics, reports,
// order book depth and checkpoints.
func NewRouter(exchange *service.Exchange, m *metrics.Collector, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogging(logger.Named("http")))
	r.Use(contentTypeJSON)

	reportH := NewReportHandler(exchange)
	snapshotH := NewSnapshotHandler(exchange)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := exchange.Halted(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "halted", Seq: exchange.Seq(), Error: err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Seq: exchange.Seq()})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Get("/reports/state-hash", reportH.StateHash)
	r.Get("/reports/balances", reportH.Balances)
	r.Get("/reports/users/{uid}", reportH.User)
	r.Get("/books/{symbol}", reportH.Book)

	r.Post("/snapshots", snapshotH.Create)
	r.Get("/snapshots/latest", snapshotH.Latest)

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Seq    int64  `json:"seq"`
	Error  string `json:"error,omitempty"`
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration.
func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON rejects POST requests whose body is declared as anything
// but JSON. An empty body needs no Content-Type.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
