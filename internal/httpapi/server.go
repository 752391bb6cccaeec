// Package httpapi exposes the export engine over HTTP: a streaming /export
// endpoint, a health probe, and the metrics endpoint.
package httpapi

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/feedrail/shopfeed/internal/output"
	"github.com/feedrail/shopfeed/internal/runner"
	"github.com/feedrail/shopfeed/internal/settings"
	"github.com/feedrail/shopfeed/pkg/config"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
	"github.com/feedrail/shopfeed/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server bundles the router with the run-scoped collaborators.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.PullMetrics
	reg     *prometheus.Registry
}

// New builds the server and its metrics registry.
func New(cfg *config.Config, log *logger.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewPullMetrics(reg),
		reg:     reg,
	}
}

// Router wires the endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	r.Get("/export", s.handleExport)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleExport runs one export per request and streams the feed to the
// client. Validation failures report before the body starts; pull failures
// after the first byte can only truncate the stream.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	options := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			options[key] = values[0]
		}
	}

	parsed, err := settings.Parse(options)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := s.log.WithShop(r.Context(), parsed.ShopName)
	mgr := runner.New(s.cfg, parsed, s.log, s.metrics)

	if parsed.RequestType == settings.RequestTypeList {
		w.Header().Set("Content-Type", "application/json")
		if err := mgr.List(ctx, w); err != nil {
			s.writeError(w, r, err)
		}
		return
	}

	var dst = newFlushWriter(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")

	var sinkTarget = dst
	var gz *gzip.Writer
	if s.cfg.Export.GzipEnabled && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz = gzip.NewWriter(dst)
		sinkTarget = newFlushWriter(gz)
	}

	sink := output.NewCSVSink(sinkTarget, output.CSVOptions{
		Delimiter:       parsed.Delimiter,
		Enclosure:       parsed.Enclosure,
		Escape:          parsed.Escape,
		StripCharacters: parsed.StripCharacters,
	})

	if err := mgr.Run(ctx, sink); err != nil {
		if !dst.wroteAny() {
			if gz != nil {
				w.Header().Del("Content-Encoding")
			}
			s.writeError(w, r, err)
			return
		}
		s.log.Error(ctx, "export stream aborted", err)
		return
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			s.log.Error(ctx, "closing gzip stream", err)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := pkgerrors.CodeOf(err)
	meta := pkgerrors.MetadataFor(code)
	s.log.Error(r.Context(), "export request failed", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(meta.HTTPStatus)
	payload := map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": meta.PublicMessage,
		},
	}
	if typed := pkgerrors.As(err); typed != nil {
		payload["error"].(map[string]any)["reason"] = typed.Message()
		if typed.Tag() != "" {
			payload["error"].(map[string]any)["tag"] = typed.Tag()
		}
	}
	_ = json.NewEncoder(w).Encode(payload)
}
