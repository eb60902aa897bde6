// Package server accepts worker connections and dispatches storage
// requests to a block store.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dendrascience/dendra-blockstore/metrics"
	"github.com/dendrascience/dendra-blockstore/protocol"
	"github.com/dendrascience/dendra-blockstore/store"
)

// Backend is the storage the server dispatches to. *store.Store
// implements it.
type Backend interface {
	BlockSize() int64
	Create(ctx context.Context, r store.Request) error
	Truncate(ctx context.Context, r store.Request, size int64) error
	Write(ctx context.Context, r store.Request, base int64, content []byte) error
	Read(ctx context.Context, r store.Request, block, size int64) ([]byte, error)
	Tag(ctx context.Context, r store.Request, dstFile, dstTag string) error
	Commit(ctx context.Context, r store.Request) error
	Delete(ctx context.Context, r store.Request) error
}

// Config controls the listener and per-connection limits.
type Config struct {
	Network string
	Address string
	// MaxPayload bounds request payloads; larger packets close the connection.
	MaxPayload uint32
	// HandshakeTimeout bounds the wait for the first packet.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each response write.
	WriteTimeout time.Duration
}

// DefaultConfig returns a config listening on a unix socket in the
// working directory.
func DefaultConfig() Config {
	return Config{
		Network:          "unix",
		Address:          "djbs.sock",
		MaxPayload:       protocol.DefaultMaxPayload,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     30 * time.Second,
	}
}

// Server serves the storage protocol.
type Server struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	activeConnections sync.WaitGroup
}

// New creates a server. m may be nil.
func New(backend Backend, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = protocol.DefaultMaxPayload
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Server{backend: backend, cfg: cfg, logger: logger, metrics: m}
}

// Listen opens the configured listener, replacing a stale unix socket.
func (s *Server) Listen() (net.Listener, error) {
	if s.cfg.Network == "unix" {
		if err := os.Remove(s.cfg.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", s.cfg.Address, err)
		}
	}
	ln, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s %s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	return ln, nil
}

// ListenAndServe listens and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// in-flight requests to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer func() {
		ln.Close()
		if s.cfg.Network == "unix" {
			os.Remove(s.cfg.Address)
		}
	}()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("storage server listening", "network", ln.Addr().Network(), "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.logger.Info("storage server stopped")
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	defer conn.Close()
	// Shutdown unblocks the read loop. A request already being handled
	// still runs to completion.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger := s.logger.With("session", uuid.NewString(), "remote", conn.RemoteAddr().String())

	worker, err := s.handshake(conn)
	if err != nil {
		logger.Warn("handshake failed", "error", err)
		return
	}
	logger = logger.With("worker", worker)
	logger.Info("worker connected")

	for {
		pkt, err := protocol.ReadPacket(conn, s.cfg.MaxPayload)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Info("worker disconnected")
			case errors.Is(err, protocol.ErrPayloadTooLarge):
				s.metrics.RecordProtocolError()
				logger.Warn("closing connection", "error", err)
				s.send(conn, logger, protocol.NewError(fmt.Errorf("%w: %w", protocol.ErrBadRequest, err)))
			default:
				logger.Warn("connection lost", "error", err)
			}
			return
		}

		resp := s.dispatch(context.WithoutCancel(ctx), logger, pkt)
		if err := s.send(conn, logger, resp); err != nil {
			logger.Warn("connection lost", "error", err)
			return
		}
	}
}

func (s *Server) handshake(conn net.Conn) (string, error) {
	if s.cfg.HandshakeTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	pkt, err := protocol.ReadPacket(conn, s.cfg.MaxPayload)
	if err != nil {
		return "", err
	}
	msg, err := protocol.Decode(pkt)
	if err != nil {
		return "", err
	}
	hs, ok := msg.(*protocol.Handshake)
	if !ok {
		err := fmt.Errorf("%w: expected handshake, got %s", protocol.ErrBadRequest, pkt.Op)
		s.send(conn, s.logger, protocol.NewError(err))
		return "", err
	}
	resp := &protocol.HandshakeResponse{BlockSize: uint64(s.backend.BlockSize())}
	if err := s.send(conn, s.logger, resp); err != nil {
		return "", err
	}
	return hs.Worker, nil
}

func (s *Server) send(conn net.Conn, logger *slog.Logger, msg protocol.Message) error {
	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := protocol.WritePacket(conn, protocol.Encode(msg)); err != nil {
		logger.Debug("failed to write response", "op", msg.Op(), "error", err)
		return err
	}
	return nil
}

// dispatch decodes one request and runs it against the backend.
func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, pkt protocol.Packet) protocol.Message {
	if !pkt.Op.IsRequest() {
		s.metrics.RecordProtocolError()
		return protocol.NewError(fmt.Errorf("%w: unexpected %s", protocol.ErrBadRequest, pkt.Op))
	}
	msg, err := protocol.Decode(pkt)
	if err != nil {
		s.metrics.RecordProtocolError()
		return protocol.NewError(fmt.Errorf("%w: %w", protocol.ErrBadRequest, err))
	}

	start := time.Now()
	resp, err := s.handle(ctx, msg)
	s.metrics.RecordRequest(pkt.Op, time.Since(start), err)
	if err != nil {
		code := protocol.CodeOf(err)
		level := slog.LevelDebug
		if code == protocol.CodeInternal {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request failed", "op", pkt.Op, "code", code, "error", err)
		return protocol.NewError(err)
	}
	return resp
}

func toInt64(v uint64, sentinel error) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", sentinel, v)
	}
	return int64(v), nil
}

func request(t protocol.Target) store.Request {
	return store.Request{Job: t.Job, File: t.File, Tag: t.Tag}
}

func (s *Server) handle(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	ok := &protocol.OK{}
	switch m := msg.(type) {
	case *protocol.Create:
		return ok, s.backend.Create(ctx, request(m.Target))
	case *protocol.Truncate:
		size, err := toInt64(m.Size, store.ErrBadSize)
		if err != nil {
			return nil, err
		}
		return ok, s.backend.Truncate(ctx, request(m.Target), size)
	case *protocol.Write:
		base, err := toInt64(m.Base, store.ErrOutOfBounds)
		if err != nil {
			return nil, err
		}
		if err := s.backend.Write(ctx, request(m.Target), base, m.Content); err != nil {
			return nil, err
		}
		s.metrics.RecordWrite(len(m.Content))
		return ok, nil
	case *protocol.Read:
		block, err := toInt64(m.Block, store.ErrOutOfBounds)
		if err != nil {
			return nil, err
		}
		data, err := s.backend.Read(ctx, request(m.Target), block, int64(min(m.Size, math.MaxInt64)))
		if err != nil {
			return nil, err
		}
		s.metrics.RecordRead(len(data))
		return &protocol.ReadResponse{Data: data}, nil
	case *protocol.Tag:
		return ok, s.backend.Tag(ctx, request(m.Target), m.DstFile, m.DstTag)
	case *protocol.Commit:
		return ok, s.backend.Commit(ctx, request(m.Target))
	case *protocol.Delete:
		return ok, s.backend.Delete(ctx, request(m.Target))
	}
	return nil, fmt.Errorf("%w: unhandled %s", protocol.ErrBadRequest, msg.Op())
}
