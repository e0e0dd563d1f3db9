package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"fleet-route-planner/internal/delta"
	"fleet-route-planner/internal/handlers"
	"fleet-route-planner/internal/materialize"
	"fleet-route-planner/internal/planstore"
	"fleet-route-planner/internal/sqlite"
	"fleet-route-planner/internal/tmap"
	"fleet-route-planner/internal/vrp"
)

// Server wraps the HTTP server and all dependencies
type Server struct {
	httpServer *http.Server
	handler    *handlers.Handler
	db         *sqlite.Store
	listener   net.Listener
	addr       string
}

// Config holds server configuration
type Config struct {
	Addr          string // e.g., "127.0.0.1:8080" or "127.0.0.1:0" for random port
	DBPath        string
	DataDir       string // plan store root
	TMapBaseURL   string
	TMapAppKey    string
	MaxConcurrent int // provider request limiter; 0 uses the client default
}

// New creates and initializes a new server (does not start it)
func New(cfg Config) (*Server, error) {
	log.Printf("Initializing data store...")
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize data store: %w", err)
	}

	log.Printf("Initializing plan store...")
	plans, err := planstore.NewStore(cfg.DataDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize plan store: %w", err)
	}

	client := tmap.NewClient(cfg.TMapBaseURL, cfg.TMapAppKey, cfg.MaxConcurrent)
	materializer := materialize.NewMaterializer(client)
	engine := delta.NewEngine(db, plans, materializer)

	handler := &handlers.Handler{
		DB:     db,
		Plans:  plans,
		Solver: vrp.NewSolver(),
		Engine: engine,
	}

	mux := setupRoutes(handler)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      loggingMiddleware(corsMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		db:         db,
		addr:       cfg.Addr,
	}, nil
}

// Start starts the server and returns the actual address (useful for random port)
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	actualAddr := listener.Addr().String()
	log.Printf("Starting server on %s", actualAddr)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return actualAddr, nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return s.db.Close()
}

// setupRoutes configures all HTTP routes
func setupRoutes(handler *handlers.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", handler.HandleHealth)

	mux.HandleFunc("/api/v1/projects", handler.HandleProjects)
	mux.HandleFunc("/api/v1/projects/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/projects/" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		handler.HandleProjectByID(w, r)
	})

	mux.HandleFunc("/api/v1/stops", handler.HandleStops)
	mux.HandleFunc("/api/v1/stops/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/stops/" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		handler.HandleStopByID(w, r)
	})

	mux.HandleFunc("/api/v1/matrix", handler.HandleMatrix)

	mux.HandleFunc("/api/v1/optimize", handler.HandleOptimize)

	mux.HandleFunc("/api/v1/routes", handler.HandleRoutes)
	mux.HandleFunc("/api/v1/routes/materialize", handler.HandleMaterialize)

	mux.HandleFunc("/api/v1/edits", handler.HandleEdits)
	mux.HandleFunc("/api/v1/edits/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/edits/" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		handler.HandleEditByID(w, r)
	})

	return mux
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		duration := time.Since(start)
		log.Printf("%s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, duration)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Only allow localhost origins (local tooling and development)
		if origin == "" ||
			strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:") {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Project-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
