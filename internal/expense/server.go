package expense

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gastos-dev/gastos/internal/config"
	"github.com/gastos-dev/gastos/internal/currency"
	"github.com/gastos-dev/gastos/internal/metrics"
)

// Server handles HTTP requests. It authenticates callers against the
// configured user table and hands the resolved Identity to the service and
// reconciler, which make all authorization decisions.
type Server struct {
	service    *Service
	reconciler *Reconciler
	converter  *currency.Converter
	cfg        *config.Config
	mux        *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, reconciler *Reconciler, converter *currency.Converter, cfg *config.Config) *Server {
	return NewServerWithMux(service, reconciler, converter, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, reconciler *Reconciler, converter *currency.Converter, cfg *config.Config, mux *http.ServeMux) *Server {
	s := &Server{
		service:    service,
		reconciler: reconciler,
		converter:  converter,
		cfg:        cfg,
		mux:        mux,
	}
	s.registerRoutes()
	return s
}

// authenticate resolves basic auth credentials into an Identity.
func (s *Server) authenticate(r *http.Request) (Identity, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return Identity{}, false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return Identity{}, false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return Identity{}, false
	}

	user, ok := s.cfg.LookupUser(credentials[0], credentials[1])
	if !ok {
		return Identity{}, false
	}
	return Identity{User: user.Name, Admin: user.Admin}, true
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// identified is the signature of a handler that needs the caller's identity.
type identified func(w http.ResponseWriter, r *http.Request, identity Identity)

// requireAuth middleware
func (s *Server) requireAuth(next identified) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.authenticate(r)
		if !ok {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Gastos"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, identity)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Expenses (most specific paths first)
	s.mux.HandleFunc("GET /api/expenses/export.csv", s.requireAuth(s.handleExportCSV))
	s.mux.HandleFunc("GET /api/expenses/{id}/image", s.requireAuth(s.handleGetReceiptImage))
	s.mux.HandleFunc("GET /api/expenses/{id}/candidates", s.requireAuth(s.handleFindCandidates))
	s.mux.HandleFunc("POST /api/expenses/{id}/match", s.requireAuth(s.handleMatch))
	s.mux.HandleFunc("POST /api/expenses/{id}/unmatch", s.requireAuth(s.handleUnmatch))
	s.mux.HandleFunc("POST /api/expenses/{id}/checked", s.requireAuth(s.handleSetChecked))
	s.mux.HandleFunc("GET /api/expenses/{id}", s.requireAuth(s.handleGetExpense))
	s.mux.HandleFunc("PUT /api/expenses/{id}", s.requireAuth(s.handleUpdateExpense))
	s.mux.HandleFunc("DELETE /api/expenses/{id}", s.requireAuth(s.handleDeleteExpense))
	s.mux.HandleFunc("GET /api/expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("POST /api/expenses", s.requireAuth(s.handleCreateExpense))

	// Receipt scanning
	s.mux.HandleFunc("POST /api/scan", s.requireAuth(s.handleScanReceipt))

	// Settlement pools
	s.mux.HandleFunc("GET /api/pools/summary", s.requireAuth(s.handlePoolSummaries))
	s.mux.HandleFunc("GET /api/pools/entries", s.requireAuth(s.handleListPool))
	s.mux.HandleFunc("GET /api/pools", s.requireAuth(s.handlePools))
	s.mux.HandleFunc("POST /api/pool-entries", s.requireAuth(s.handleAddPoolEntry))
	s.mux.HandleFunc("DELETE /api/pool-entries/{id}", s.requireAuth(s.handleDeletePoolEntry))

	// Trip registry
	s.mux.HandleFunc("PUT /api/trips/{name}/active", s.requireAuth(s.handleSetTripActive))
	s.mux.HandleFunc("DELETE /api/trips/{name}", s.requireAuth(s.handleDeleteTrip))
	s.mux.HandleFunc("GET /api/trips", s.requireAuth(s.handleListTrips))
	s.mux.HandleFunc("POST /api/trips", s.requireAuth(s.handleCreateTrip))

	// Utilities
	s.mux.HandleFunc("GET /api/convert", s.requireAuth(s.handleConvert))
	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleCategories))

	// Observability, unauthenticated
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
