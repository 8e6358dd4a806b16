package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Routes builds the HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/ws", h.StreamState)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)

		r.Get("/conversations", h.GetConversations)
		r.Post("/conversations", h.CreateConversation)
		r.Patch("/conversations/{id}", h.UpdateConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Post("/conversations/{id}/select", h.SelectConversation)

		r.Group(func(r chi.Router) {
			r.Use(h.requireReady)
			r.Post("/message", h.HandleMessage)
		})
		r.Post("/stop", h.StopGeneration)

		r.Get("/models", h.ListModels)
		r.Put("/model", h.SwitchModel)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Put("/search", h.SetSearch)

		r.Get("/gate", h.GetGate)
		r.Post("/gate/onboarding", h.CompleteOnboarding)
		r.Post("/gate/retry", h.RetryDownloads)

		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
	})
	return r
}

// requireReady rejects chat requests until the mandatory models are ready.
func (h *Handler) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.gate.Ready() {
			http.Error(w, "Models are still downloading", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())))
	})
}
