package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Webhook is the inbound notification surface mounted under /webhook.
type Webhook interface {
	ServeEvent(w http.ResponseWriter, r *http.Request)
	ServeVerify(w http.ResponseWriter, r *http.Request)
}

// NewRouter builds the HTTP routes: health, webhook endpoints and the /api
// group. CORS applies to /api only.
func NewRouter(svc Service, wh Webhook, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if wh != nil {
		r.Post("/webhook", wh.ServeEvent)
		r.Post("/webhook/verify", wh.ServeVerify)
	}

	if svc != nil {
		h := NewHandlers(svc)
		if len(corsOrigins) == 0 {
			corsOrigins = []string{"*"}
		}
		r.Route("/api", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: corsOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))

			r.Post("/board/recalculate", h.RecalculateBoard)
			r.Route("/items/{itemID}", func(r chi.Router) {
				r.Get("/", h.Item)
				r.Get("/factor", h.GetFactor)
				r.Put("/factor", h.PutFactor)
				r.Post("/recalculate", h.Recalculate)
				r.Get("/history", h.History)
			})
		})
	}
	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
