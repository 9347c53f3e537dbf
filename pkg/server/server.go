// Package server assembles the live-state push service: the update endpoint,
// the forwarder bridging the stream backend onto connected clients, and a
// periodic state source publishing snapshots.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/livestate/pkg/stream"
	"github.com/go-go-golems/livestate/pkg/updates"
)

// EndpointPath is where clients attach their reconnecting channel.
const EndpointPath = "/__ws__"

type Config struct {
	Addr string
	// Topic is the stream topic state snapshots are published on.
	Topic string
	// Interval between state snapshots; 0 disables the built-in source so an
	// external publisher can feed the topic instead.
	Interval time.Duration
}

// Server drives the HTTP endpoint, forwarder, and snapshot source lifecycle.
type Server struct {
	cfg     Config
	backend stream.Backend
	pool    *updates.Pool
	httpSrv *http.Server

	started time.Time
	seq     atomic.Uint64
}

func New(cfg Config, backend stream.Backend) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if cfg.Addr == "" {
		return nil, errors.New("addr is empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is empty")
	}
	s := &Server{cfg: cfg, backend: backend, started: time.Now()}
	s.pool = updates.NewPool(cfg.Topic, time.Minute, func() {
		log.Debug().Str("component", "server").Str("topic", cfg.Topic).Msg("no clients connected")
	})

	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc(EndpointPath, updates.NewHandler(s.pool, upgrader, s.snapshot))
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Pool() *updates.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Handler exposes the HTTP mux so callers can mount it on their own server.
func (s *Server) Handler() http.Handler {
	if s == nil || s.httpSrv == nil {
		return http.NotFoundHandler()
	}
	return s.httpSrv.Handler
}

// Run serves until ctx is canceled or an interrupt signal arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	sub, err := s.backend.Subscriber(srvCtx, s.cfg.Topic)
	if err != nil {
		return errors.Wrap(err, "build subscriber")
	}
	fwd := updates.NewForwarder(s.cfg.Topic, sub, s.pool)
	if err := fwd.Start(srvCtx); err != nil {
		return errors.Wrap(err, "start forwarder")
	}

	if s.cfg.Interval > 0 {
		eg.Go(func() error {
			s.publishLoop(srvCtx)
			return nil
		})
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownBase := context.WithoutCancel(ctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownBase, 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		fwd.Stop()
		s.pool.CloseAll()
		if err := s.backend.Close(); err != nil {
			log.Error().Err(err).Msg("stream backend close error")
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Str("path", EndpointPath).Msg("starting livestate server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := s.snapshot().Marshal()
			if err != nil {
				log.Warn().Err(err).Str("component", "server").Msg("snapshot marshal failed")
				continue
			}
			msg := message.NewMessage(watermill.NewUUID(), data)
			if err := s.backend.Publisher().Publish(s.cfg.Topic, msg); err != nil {
				log.Warn().Err(err).Str("component", "server").Str("topic", s.cfg.Topic).Msg("snapshot publish failed")
			}
		}
	}
}

// snapshot builds the application state the original UI polled for: a small
// JSON object clients can render without any schema agreement.
func (s *Server) snapshot() updates.Update {
	return updates.NewStateUpdate(map[string]any{
		"sequence":       s.seq.Add(1),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"clients":        s.pool.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
