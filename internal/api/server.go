package api

import (
	"context"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/ligustah/relay/internal/dispatch"
	"github.com/ligustah/relay/internal/status"
)

// Dispatcher starts and manages transfers.
type Dispatcher interface {
	Start(ctx context.Context, url, filename string) (string, error)
	Retry(ctx context.Context, keys []string) ([]dispatch.RetryResult, error)
	Delete(ctx context.Context, keys []string) (*dispatch.DeleteResult, error)
}

// StatusReader reads the status table.
type StatusReader interface {
	Get(ctx context.Context, key string) (*status.Record, error)
	List(ctx context.Context, q status.ListQuery) (*status.ListResult, error)
}

// Options configures a Server.
type Options struct {
	// APIKey, when set, must be sent in the X-API-KEY header to start a
	// transfer.
	APIKey string

	AdminUser string
	// AdminPassHash is a bcrypt hash. Admin routes reject every request
	// when it is empty.
	AdminPassHash string

	Logger log.Interface
}

// Server serves the relay HTTP API.
type Server struct {
	dispatcher Dispatcher
	status     StatusReader
	opts       Options
	log        log.Interface
	engine     *gin.Engine
}

// NewServer creates a Server and registers its routes.
func NewServer(d Dispatcher, st StatusReader, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	s := &Server{
		dispatcher: d,
		status:     st,
		opts:       opts,
		log:        opts.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.log))
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.health)

	start := r.Group("", APIKeyAuth(s.opts.APIKey))
	start.POST("/", s.startTransfer)
	start.POST("/api/transfers", s.startTransfer)

	r.GET("/status", s.getStatus)
	r.GET("/api/transfers/:key", s.getStatus)

	admin := r.Group("/admin", BasicAuth(s.opts.AdminUser, s.opts.AdminPassHash))
	admin.GET("/uploads", s.listUploads)
	admin.POST("/uploads/retry", s.retryUploads)
	admin.POST("/uploads/delete", s.deleteUploads)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "relay"})
}

func fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"success": false, "error": msg})
}
