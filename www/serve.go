// Package www serves the relay's read-only web views, the platform webhook
// and Prometheus metrics.
package www

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"node.town/uam/relay"
	"node.town/uam/rtms"
	"node.town/uam/transcript"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.Format("15:04:05") },
}).ParseFS(templateFS, "templates/*.html"))

// ViewSource is anything that can hand out the latest relay view.
type ViewSource interface {
	View() relay.View
}

type Server struct {
	Router *chi.Mux

	views ViewSource
	log   *log.Logger
}

func NewServer(
	views ViewSource,
	sink rtms.Sink,
	gatherer prometheus.Gatherer,
	logger *log.Logger,
) *Server {
	s := &Server{
		Router: chi.NewRouter(),
		views:  views,
		log:    logger,
	}

	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Get("/sessions/{stream}", s.handleSession)
	r.Get("/sessions/{stream}/transcript", s.handleTranscript)
	r.Post("/webhook", rtms.WebhookHandler(sink, logger))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// ListenAndServe runs until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", s.views.View())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.views.View().Status)
}

type sessionPage struct {
	StreamID string
	View     relay.View
	Rendered transcript.Rendered
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	v := s.views.View()
	rendered, ok := v.Transcript(stream)
	if !ok {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}
	s.render(w, "session.html", sessionPage{
		StreamID: stream,
		View:     v,
		Rendered: rendered,
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	rendered, ok := s.views.View().Transcript(chi.URLParam(r, "stream"))
	if !ok {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}
	writeJSON(w, rendered)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("render", "template", name, "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
