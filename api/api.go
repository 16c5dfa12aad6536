// Package api exposes the triage engine over HTTP. One server fronts one
// loaded collection; analysts open sessions and drive them through the
// round-trip endpoints.
//
// Sessions are addressed by opaque tokens handed out at open time. Every
// session carries its own rate limiter so one runaway client cannot starve
// the rest.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/hupe1980/imgsieve"
)

const (
	// DefaultRateLimit bounds requests per second per session. Interaction
	// rounds are human-paced; anything faster is a misbehaving client.
	DefaultRateLimit rate.Limit = 20

	// DefaultBurst is the per-session burst allowance.
	DefaultBurst = 40
)

// Options configures the server.
type Options struct {
	// Logger receives request and session lifecycle events.
	Logger *imgsieve.Logger

	// ImageBaseURL is prepended to image ids when constructing the URLs the
	// UI loads thumbnails from, e.g. "http://img.example.com/collection".
	ImageBaseURL string

	// RateLimit and Burst bound the per-session request rate.
	RateLimit rate.Limit
	Burst     int
}

// Server serves triage sessions over one loaded collection.
type Server struct {
	coll     *imgsieve.Collection
	sessions *registry
	logger   *imgsieve.Logger
	opts     Options
}

// NewServer creates a server over the given collection.
func NewServer(coll *imgsieve.Collection, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:    imgsieve.NoopLogger(),
		RateLimit: DefaultRateLimit,
		Burst:     DefaultBurst,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		coll:     coll,
		sessions: newRegistry(opts.RateLimit, opts.Burst),
		logger:   opts.Logger,
		opts:     opts,
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", s.handleOpenSession)

		r.Route("/session/{token}", func(r chi.Router) {
			r.Use(s.withSession)

			r.Delete("/", s.handleCloseSession)

			r.Get("/bucket_info", s.handleBucketInfo)
			r.Get("/bucket_view_data", s.handleBucketViewData)

			r.Post("/create_bucket", s.handleCreateBucket)
			r.Post("/delete_bucket", s.handleDeleteBucket)
			r.Post("/rename_bucket", s.handleRenameBucket)
			r.Post("/swap_buckets", s.handleSwapBuckets)
			r.Post("/toggle_bucket", s.handleToggleBucket)

			r.Post("/interaction_round", s.handleInteractionRound)
			r.Post("/toggle_mode", s.handleToggleMode)
			r.Post("/grid_set_size", s.handleGridSetSize)

			r.Post("/transfer_images", s.handleTransferImages)
			r.Post("/fast_forward", s.handleFastForward)
			r.Post("/ff_commit", s.handleFFCommit)
			r.Post("/ff_discard", s.handleFFDiscard)
		})
	})

	return r
}
