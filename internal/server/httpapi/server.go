// Package httpapi is the control surface of the scheduler daemon: health
// and metrics endpoints plus schedule, publish-now and signing triggers.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/metrics"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/services"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nbd-wtf/go-nostr"
)

const shutdownTimeout = 10 * time.Second

// Posts is implemented by services.PostService.
type Posts interface {
	Schedule(ctx context.Context, req services.ScheduleRequest) (string, error)
	PublishNow(ctx context.Context, postID string) (string, error)
	Get(ctx context.Context, id string) (*models.Post, error)
	TriggerSigningQueue()
}

// Archive is implemented by archive.S3Archive.
type Archive interface {
	URL(ctx context.Context, ev *nostr.Event, ttl time.Duration) (string, error)
}

type Options struct {
	Address string
	Posts   Posts
	// Archive is optional; without it the archive route answers 404.
	Archive Archive
	Metrics *metrics.Metrics
	// JWTSecret, when set, protects every /api route with an HS256 bearer
	// token.
	JWTSecret []byte
	Logger    logging.Logger
}

type Server struct {
	address   string
	posts     Posts
	archive   Archive
	metrics   *metrics.Metrics
	jwtSecret []byte
	logger    logging.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Server{
		address:   opts.Address,
		posts:     opts.Posts,
		archive:   opts.Archive,
		metrics:   opts.Metrics,
		jwtSecret: opts.JWTSecret,
		logger:    opts.Logger.With("module", "http_server"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if len(s.jwtSecret) > 0 {
			r.Use(s.bearerAuth)
		}
		r.Post("/posts", s.schedule)
		r.Get("/posts/{id}", s.getPost)
		r.Post("/posts/{id}/publish", s.publishNow)
		r.Get("/posts/{id}/archive", s.archiveURL)
		r.Post("/signing/trigger", s.triggerSigning)
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
