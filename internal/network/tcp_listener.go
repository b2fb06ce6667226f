package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/protocol"
)

// Role names the purpose of a listener.
type Role string

const (
	RoleGame   Role = "game"
	RoleChat   Role = "chat"
	RolePolicy Role = "policy"
)

// HandlerFactory builds the protocol state machine for a new connection.
type HandlerFactory func(conn *Connection) FrameHandler

// ListenerConfig describes one listener.
type ListenerConfig struct {
	Role    Role
	Address string
	// MaxConnections caps concurrently served connections; 0 means no cap.
	MaxConnections int
	Conn           ConnOptions
}

// TCPListener accepts connections for one role and serves each on its
// own goroutine.
type TCPListener struct {
	cfg      ListenerConfig
	factory  HandlerFactory
	registry *ConnectionRegistry
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	slots    chan struct{}
	wg       sync.WaitGroup
}

// NewTCPListener creates a listener; Start binds it.
func NewTCPListener(cfg ListenerConfig, registry *ConnectionRegistry, factory HandlerFactory) *TCPListener {
	l := &TCPListener{
		cfg:      cfg,
		factory:  factory,
		registry: registry,
		logger:   log.With().Str("component", "tcp_listener").Str("role", string(cfg.Role)).Logger(),
	}
	if cfg.MaxConnections > 0 {
		l.slots = make(chan struct{}, cfg.MaxConnections)
	}
	return l
}

// NewPolicyListener creates a listener that only answers policy requests.
func NewPolicyListener(address, document string, registry *ConnectionRegistry, obs Observer) *TCPListener {
	cfg := ListenerConfig{
		Role:    RolePolicy,
		Address: address,
		Conn: ConnOptions{
			Format:         protocol.ChatFormat,
			PolicyDocument: document,
			ReadTimeout:    10 * time.Second,
			MaxPacketSize:  1024,
			Observer:       obs,
		},
	}
	return NewTCPListener(cfg, registry, func(*Connection) FrameHandler {
		return FrameHandlerFunc(func(context.Context, []byte) error {
			return fmt.Errorf("policy socket expects %s", protocol.PolicyRequest)
		})
	})
}

// Listen binds the address. It is separate from Serve so callers can fail
// fast on a port conflict before starting other listeners.
func (l *TCPListener) Listen(ctx context.Context) error {
	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to start %s listener on %s: %w", l.cfg.Role, l.cfg.Address, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	l.logger.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Start binds if needed and runs the accept loop until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	if l.Addr() == nil {
		if err := l.Listen(ctx); err != nil {
			return err
		}
	}
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("TCP listener stopping")
				l.wg.Wait()
				return nil
			default:
				l.logger.Error().Err(err).Msg("failed to accept connection")
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		if !l.acquire() {
			l.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("connection limit reached, rejecting")
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.release()
			l.handleConnection(ctx, conn)
		}()
	}
}

func (l *TCPListener) acquire() bool {
	if l.slots == nil {
		return true
	}
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *TCPListener) release() {
	if l.slots != nil {
		<-l.slots
	}
}

func (l *TCPListener) handleConnection(ctx context.Context, raw net.Conn) {
	conn := NewConnection(raw, l.cfg.Role, l.cfg.Conn)
	obs := l.cfg.Conn.Observer
	if obs != nil {
		obs.ConnectionOpened(string(l.cfg.Role))
		defer obs.ConnectionClosed(string(l.cfg.Role))
	}

	l.registry.Register(conn)
	defer l.registry.Unregister(conn.ID())

	logger := conn.Logger()
	logger.Debug().Msg("connection accepted")
	conn.Serve(ctx, l.factory(conn))
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// ReuseAddrListenConfig returns the SO_REUSEADDR listen config shared by
// every listener, for servers built outside this package.
func ReuseAddrListenConfig() net.ListenConfig {
	return listenConfig()
}
