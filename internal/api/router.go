package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/finpipe/internal/api/handlers"
	"github.com/wonny/finpipe/pkg/logger"
)

// Handlers groups the endpoint handlers. Nil members leave their routes unregistered.
type Handlers struct {
	Runs       *handlers.RunHandler
	Partitions *handlers.PartitionHandler
	Jobs       *handlers.JobHandler
	Events     http.Handler // WebSocket run notifications
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	if h.Events != nil {
		r.Handle("/ws", h.Events).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Run endpoints
	if h.Runs != nil {
		api.HandleFunc("/runs", h.Runs.Trigger).Methods("POST")
		api.HandleFunc("/runs", h.Runs.List).Methods("GET")
		api.HandleFunc("/runs/active", h.Runs.Active).Methods("GET")
		api.HandleFunc("/runs/{id}", h.Runs.Get).Methods("GET")
	}

	// Warehouse endpoints
	if h.Partitions != nil {
		api.HandleFunc("/partitions/{date}", h.Partitions.GetPartition).Methods("GET")
		api.HandleFunc("/holdings/{date}", h.Partitions.GetHoldings).Methods("GET")
	}

	if h.Jobs != nil {
		api.HandleFunc("/jobs", h.Jobs.Stats).Methods("GET")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "finpipe-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
