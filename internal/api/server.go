package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/log"
)

// ServerConfig contains everything needed to build the API server.
type ServerConfig struct {
	Logger       log.Logger
	Store        conversation.Storage // Required
	Orchestrator Streamer             // Required
	Pool         *pgxpool.Pool        // Optional: nil skips the pool ping in /ready
	HMACSecret   []byte               // Required: 32+ bytes, signs the uid cookie
	CORSOrigins  []string
	IsDev        bool // Enables HTTP cookies (no Secure flag)
	TrustProxy   bool // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst    int  // Rate limiter burst per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes and middleware configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if len(cfg.HMACSecret) < 32 {
		return nil, errors.New("hmac secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	id := &identity{
		hmacSecret: cfg.HMACSecret,
		isDev:      cfg.IsDev,
		logger:     logger,
	}

	ch := &conversationHandler{store: cfg.Store, logger: logger}
	gh := &chatHandler{orchestrator: cfg.Orchestrator, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/conversations", ch.create)
	mux.HandleFunc("GET /api/v1/conversations", ch.list)
	mux.HandleFunc("POST /api/v1/conversations/{id}/chunk", ch.appendChunk)
	mux.HandleFunc("GET /api/v1/conversations/{id}/chunk", ch.readChunk)
	mux.HandleFunc("POST /api/v1/chat/stream", gh.stream)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> CORS -> RateLimit -> Identity -> Routes
	// CORS sits before RateLimit so preflight OPTIONS carries CORS headers.
	var handler http.Handler = mux
	handler = identityMiddleware(id)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
