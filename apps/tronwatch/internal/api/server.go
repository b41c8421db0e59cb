package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the API server
type Server struct {
	orderHandler        *OrderHandler
	subscriptionHandler *SubscriptionHandler
	accountHandler      *AccountHandler
	logger              *zap.Logger
	server              *http.Server
}

// NewServer creates a new API server
func NewServer(port int, orders OrderService, redriver Redriver, notifier ResultNotifier, subscriptions SubscriptionStore, accounts AccountSource, logger *zap.Logger) *Server {
	return &Server{
		orderHandler:        NewOrderHandler(orders, redriver, notifier, logger),
		subscriptionHandler: NewSubscriptionHandler(subscriptions, logger),
		accountHandler:      NewAccountHandler(accounts, logger),
		logger:              logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.server.Handler = s.Handler()

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	// Orders
	api.HandleFunc("/orders", s.orderHandler.RecordOrder).Methods("POST")
	api.HandleFunc("/orders/special-offer", s.orderHandler.CreateSpecialOffer).Methods("POST")
	api.HandleFunc("/orders/smart", s.orderHandler.CreateSmartOrder).Methods("POST")
	api.HandleFunc("/orders/{order_id}", s.orderHandler.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{order_id}/cancel", s.orderHandler.CancelOrder).Methods("POST")
	api.HandleFunc("/orders/{order_id}/currency", s.orderHandler.SwitchCurrency).Methods("POST")
	api.HandleFunc("/orders/{order_id}/fulfill", s.orderHandler.Redrive).Methods("POST")

	// Subscriptions
	api.HandleFunc("/subscriptions", s.subscriptionHandler.Subscribe).Methods("POST")
	api.HandleFunc("/users/{user_id}/subscriptions", s.subscriptionHandler.ListByUser).Methods("GET")
	api.HandleFunc("/users/{user_id}/subscriptions/{address}", s.subscriptionHandler.Unsubscribe).Methods("DELETE")
	api.HandleFunc("/users/{user_id}/subscriptions/{address}/toggle", s.subscriptionHandler.Toggle).Methods("POST")
	api.HandleFunc("/users/{user_id}/subscriptions/{address}/nickname", s.subscriptionHandler.Rename).Methods("PUT")
	api.HandleFunc("/watched-addresses", s.subscriptionHandler.ListWatched).Methods("GET")
	api.HandleFunc("/watched-addresses/{address}/subscribers", s.subscriptionHandler.ListSubscribers).Methods("GET")

	api.HandleFunc("/accounts/{address}", s.accountHandler.GetAccount).Methods("GET")

	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	writeJSONResponse(w, s.logger, http.StatusOK, response)
}

func writeJSONResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func writeErrorResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, errorCode, message string) {
	writeJSONResponse(w, logger, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
