// Package server implements the microkv TCP server: a bounded pool of
// per-connection handlers dispatching wire requests against one store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/microkv/microkv/internal/logger"
	"github.com/microkv/microkv/internal/metrics"
	"github.com/microkv/microkv/internal/protocol"
	"github.com/microkv/microkv/internal/store"
)

// Config holds server configuration.
type Config struct {
	// MaxClients bounds concurrently served connections; beyond the cap,
	// new connections wait at the accept boundary.
	MaxClients int
	// RateLimit is the maximum commands/sec per connection (0 = unlimited).
	RateLimit int
	// Metrics receives instrumentation updates; nil disables them.
	Metrics *metrics.Metrics
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{MaxClients: 64}
}

// Server serves the wire protocol over persistent TCP connections.
type Server struct {
	addr   string
	table  *commandTable
	config Config

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	wg    sync.WaitGroup
	slots chan struct{}
}

// New creates a Server with default configuration.
func New(addr string, st *store.Store) *Server {
	return NewWithConfig(addr, st, DefaultConfig())
}

// NewWithConfig creates a Server bound to st with the given configuration.
func NewWithConfig(addr string, st *store.Store, cfg Config) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	return &Server{
		addr:   addr,
		table:  newCommandTable(st),
		config: cfg,
		slots:  make(chan struct{}, cfg.MaxClients),
	}
}

// Addr returns the bound listener address. It is only valid after Start
// has opened the listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens on the configured address and serves until the context is
// cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("microkv server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_clients", s.config.MaxClients))

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		// Take a pool slot first so that at capacity the accept loop
		// itself blocks and new connections queue in the backlog.
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			<-s.slots

			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			logger.Error("failed to accept connection", zap.Error(err))
			continue
		}

		s.config.Metrics.ConnOpened()
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				<-s.slots
				s.config.Metrics.ConnClosed()
			}()
			s.handleConnection(c)
		}(conn)
	}
}

// Close shuts the listener and waits for in-flight connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	return err
}

// handleConnection runs the per-connection loop: decode one request,
// dispatch, write exactly one reply, repeat until disconnect.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	// Replies are buffered and flushed once no more pipelined input is
	// waiting, so a burst of requests costs one write syscall.
	writer.SetAutoFlush(false)
	flushIfIdle := func() bool {
		if reader.Buffered() > 0 {
			return true
		}
		if err := writer.Flush(); err != nil {
			logger.Warn("failed to flush replies", zap.String("remote", remote), zap.Error(err))
			return false
		}
		return true
	}

	var limiter *rate.Limiter
	if s.config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateLimit)
	}

	logger.Info("connection received", zap.String("remote", remote))

	for {
		req, err := reader.ReadValue()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrDisconnect):
				logger.Info("client disconnected", zap.String("remote", remote))
				return
			case errors.Is(err, protocol.ErrTruncated):
				logger.Warn("connection closed mid-message", zap.String("remote", remote))
				return
			case errors.Is(err, protocol.ErrInvalidProtocol), errors.Is(err, protocol.ErrBadRequest):
				// Recoverable: answer with an error reply and keep serving.
				logger.Warn("request error", zap.String("remote", remote), zap.Error(err))
				s.config.Metrics.ErrorReply()
				if werr := writer.WriteError(err.Error()); werr != nil {
					return
				}
				if !flushIfIdle() {
					return
				}
				continue
			default:
				logger.Warn("transport fault", zap.String("remote", remote), zap.Error(err))
				return
			}
		}

		if limiter != nil && !limiter.Allow() {
			s.config.Metrics.ErrorReply()
			if werr := writer.WriteError("rate limit exceeded"); werr != nil {
				return
			}
			if !flushIfIdle() {
				return
			}
			continue
		}

		name, reply := s.table.Dispatch(req)
		if name != "" {
			s.config.Metrics.Command(name)
		}
		if reply.Type == protocol.TypeError {
			s.config.Metrics.ErrorReply()
		}

		if werr := writer.WriteValue(reply); werr != nil {
			if errors.Is(werr, protocol.ErrUnrecognizedType) {
				s.config.Metrics.ErrorReply()
				if ferr := writer.WriteError(werr.Error()); ferr != nil {
					return
				}
				if !flushIfIdle() {
					return
				}
				continue
			}
			logger.Warn("failed to write reply", zap.String("remote", remote), zap.Error(werr))
			return
		}
		if !flushIfIdle() {
			return
		}
	}
}
