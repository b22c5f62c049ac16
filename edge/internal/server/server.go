package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"reflect"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/edge/pkg/resolver"
	"github.com/portfolio-assets/assets-go/edge/pkg/respcache"
)

type Config struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read-header-timeout"`
	WriteTimeout      time.Duration `mapstructure:"write-timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout"`
}

// Resolver is implemented by resolver.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, key string, h resolver.Hints) (*resolver.Result, error)
	Stat(ctx context.Context, key string, h resolver.Hints) (*resolver.Result, error)
	ConfigVersion() string
}

type EdgeServer struct {
	log *zap.Logger
	wg  *sync.WaitGroup
	Config
	httpServer *http.Server
	resolver   Resolver
	cache      respcache.Cache
	metrics    *metrics
}

func New(log *zap.Logger, config Config, res Resolver, cache respcache.Cache, reg *prometheus.Registry) (*EdgeServer, error) {
	log = log.With(zap.String("component", path.Base(reflect.TypeOf(EdgeServer{}).PkgPath())))

	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	s := &EdgeServer{
		log:      log,
		Config:   config,
		wg:       new(sync.WaitGroup),
		resolver: res,
		cache:    cache,
		metrics:  m,
	}
	s.httpServer = &http.Server{
		Addr:              s.Address,
		Handler:           s.routes(reg),
		ReadHeaderTimeout: s.ReadHeaderTimeout,
		WriteTimeout:      s.WriteTimeout,
		ErrorLog:          zap.NewStdLog(log),
	}
	return s, nil
}

func (s *EdgeServer) routes(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		s.logRequests,
	)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/images/*", s.serveImage)
	r.Head("/images/*", s.serveImage)
	return r
}

// Handler returns the router, used by tests.
func (s *EdgeServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *EdgeServer) ListenAndServe(errChan chan<- error) {
	go func() {
		s.log.Info("listening on local network address", zap.Any("address", s.Address))
		lis, err := net.Listen("tcp", s.Address)
		if err != nil {
			errChan <- fmt.Errorf("edge server: error listening on the specified address %s: %w", s.Address, err)
			return
		}
		s.log.Info("serving HTTP requests")
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("edge server: error serving HTTP requests: %w", err)
		}
	}()
}

// Stop waits up to ShutdownTimeout for in-flight requests before closing all connections.
func (s *EdgeServer) Stop() {
	s.log.Info("attempting to stop HTTP server")
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown did not complete, closing connections", zap.Error(err))
		s.httpServer.Close()
	}
	s.wg.Wait()
}

func (s *EdgeServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestID", middleware.GetReqID(r.Context())))
	})
}
