package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"fleetcost/internal/analytics"
	"fleetcost/internal/cache"
	"fleetcost/internal/log"
	"fleetcost/internal/middleware/ratelimit"
	"fleetcost/internal/middleware/security"
	"fleetcost/internal/middleware/trace"
	"fleetcost/internal/services"
)

// Services are the application services behind the API.
type Services struct {
	Fleet    *services.FleetService
	Trips    *services.TripManager
	Expenses *services.ExpenseService
	Incomes  *services.IncomeService
	Reports  *services.ReportService
}

type Options struct {
	Logger *log.Logger
	// Ready reports whether the record store is reachable.
	Ready func(ctx context.Context) error
	// FilesDir is served under /files/ when set, for the local blob store.
	FilesDir           string
	CacheTTL           time.Duration
	CacheSize          int
	MaxUploadBytes     int64
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	svc    Services
	logger *log.Logger
	ready  func(ctx context.Context) error

	caches        *cache.Manager
	overviewCache *cache.LRUCache[analytics.OverviewResult]
	rankingCache  *cache.LRUCache[[]services.RankedTruck]
	limiter       *ratelimit.Limiter

	maxUploadBytes int64
	shutdownOnce   sync.Once
}

// orgHandler is a handler that runs inside a validated organization scope.
type orgHandler func(w http.ResponseWriter, r *http.Request, org string)

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc Services, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}

	s := &Server{
		svc:            svc,
		logger:         opts.Logger.WithComponent(log.ComponentHTTP),
		ready:          opts.Ready,
		caches:         cache.NewManager(opts.Logger),
		overviewCache:  cache.NewLRUCache[analytics.OverviewResult](opts.CacheSize, opts.CacheTTL),
		rankingCache:   cache.NewLRUCache[[]services.RankedTruck](opts.CacheSize, opts.CacheTTL),
		maxUploadBytes: opts.MaxUploadBytes,
	}
	s.caches.Register(s.overviewCache)
	s.caches.Register(s.rankingCache)
	s.caches.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	if opts.FilesDir != "" {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(opts.FilesDir)))
		mux.Handle("GET /files/", noListing(files))
	}

	mux.Handle("POST /trucks", s.org(s.handleCreateTruck))
	mux.Handle("GET /trucks", s.org(s.handleListTrucks))
	mux.Handle("GET /trucks/{id}", s.org(s.handleGetTruck))
	mux.Handle("PATCH /trucks/{id}/status", s.org(s.handleUpdateTruckStatus))
	mux.Handle("PUT /trucks/{id}/driver", s.org(s.handleAssignDriver))
	mux.Handle("DELETE /trucks/{id}", s.org(s.handleDeleteTruck))
	mux.Handle("GET /trucks/{id}/report", s.org(s.handleTruckReport))
	mux.Handle("GET /trucks/{id}/current-trip", s.org(s.handleCurrentTrip))
	mux.Handle("GET /trucks/{id}/trips", s.org(s.handleListTruckTrips))
	mux.Handle("GET /trucks/{id}/expenses", s.org(s.handleListTruckExpenses))

	mux.Handle("POST /drivers", s.org(s.handleCreateDriver))
	mux.Handle("GET /drivers", s.org(s.handleListDrivers))
	mux.Handle("DELETE /drivers/{id}", s.org(s.handleDeleteDriver))

	mux.Handle("POST /trips", s.org(s.handleStartTrip))
	mux.Handle("GET /trips/{id}", s.org(s.handleGetTrip))
	mux.Handle("PATCH /trips/{id}", s.org(s.handleUpdateRoute))
	mux.Handle("POST /trips/{id}/finalize", s.org(s.handleFinalizeTrip))
	mux.Handle("PATCH /trips/{id}/financials", s.org(s.handleUpdateFinancials))

	mux.Handle("POST /expenses", s.org(s.handleRecordExpense))
	mux.Handle("PATCH /expenses/{id}", s.org(s.handleUpdateExpense))
	mux.Handle("DELETE /expenses/{id}", s.org(s.handleDeleteExpense))

	mux.Handle("POST /incomes", s.org(s.handleRecordIncome))
	mux.Handle("GET /incomes", s.org(s.handleListIncomes))

	mux.Handle("GET /reports/overview", s.org(s.handleOverview))
	mux.Handle("GET /reports/ranking", s.org(s.handleRanking))
	mux.Handle("GET /reports/compare", s.org(s.handleCompare))

	clientIP := security.NewClientIP()
	var handler http.Handler = mux
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
			CleanupInterval:   5 * time.Minute,
		})
		limitKey := func(r *http.Request) string {
			return r.Header.Get(HeaderOrganization) + "|" + clientIP.Extract(r)
		}
		handler = s.limiter.Middleware(limitKey, s.rateLimited)(handler)
	}
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = trace.NewMiddleware(opts.Logger, clientIP.Extract).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// org resolves the organization header and, once a write succeeds, drops
// every cached report of that organization.
func (s *Server) org(h orgHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, err := parseOrganization(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := log.WithContext(r.Context(), log.FromContext(r.Context()).With(log.FieldOrganization, org))
		r = r.WithContext(ctx)

		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			h(w, r, org)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, org)
		if rec.status < 400 {
			s.caches.InvalidateOrganization(org)
		}
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
		Type:      "rate_limited",
		Message:   "rate limit exceeded, try again later",
		Retryable: true,
	}})
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// noListing hides directory indexes of the file server.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "private, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wrote {
		rw.status = code
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
