// Package api serves the last persisted ledger results over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"realm-ledger/internal/logging"
	"realm-ledger/internal/observability"
	"realm-ledger/internal/storage"
)

// DefaultProofCacheSize is the number of Merkle trees kept for proof requests.
const DefaultProofCacheSize = 64

// StatusFunc reports scheduler state for /status. May be nil.
type StatusFunc func() any

// Options configures the API server.
type Options struct {
	Stakes  storage.StakeResultStore
	Claims  storage.ClaimsResultStore
	Pushes  storage.PushResultStore
	Archive storage.Archive // optional; history routes answer 404 without it

	ProofCacheSize int
	Scheduler      StatusFunc
	Logger         *logrus.Logger
}

// Server is the read-side API. Every response reflects the latest persisted
// documents; nothing is computed from chain state.
type Server struct {
	stakes    storage.StakeResultStore
	claims    storage.ClaimsResultStore
	pushes    storage.PushResultStore
	archive   storage.Archive
	scheduler StatusFunc
	trees     *lru.ARCCache // document-derived key -> *merkle.Tree
	log       *logrus.Logger
	started   time.Time
}

// New creates an API server.
func New(opts Options) (*Server, error) {
	size := opts.ProofCacheSize
	if size <= 0 {
		size = DefaultProofCacheSize
	}
	trees, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		stakes:    opts.Stakes,
		claims:    opts.Claims,
		pushes:    opts.Pushes,
		archive:   opts.Archive,
		scheduler: opts.Scheduler,
		trees:     trees,
		log:       log,
		started:   time.Now(),
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())
	r.Get("/status", s.handleStatus)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stakes/latest", s.handleLatestStakes)
		r.Get("/claims/latest", s.handleLatestClaims)
		r.Get("/pushes/{target}", s.handlePushes)

		r.Route("/accounts/{address}", func(r chi.Router) {
			r.Get("/stake", s.handleAccountStake)
			r.Get("/stake-proof", s.handleStakeProof)
			r.Get("/claim-proof", s.handleClaimProof)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/stakes", s.handleStakeHistory)
			r.Get("/claims/{realm}", s.handleClaimHistory)
			r.Get("/pushes", s.handlePushHistory)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
