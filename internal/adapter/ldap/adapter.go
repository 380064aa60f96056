// Package ldap serves the directory over LDAPv3: a TCP accept loop, a
// per-connection state machine, and a search executor running against the
// current snapshot. The server is read-only; every write-class operation is
// answered with an error PDU.
package ldap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ldaptoid/ldaptoid/internal/directory"
	"github.com/ldaptoid/ldaptoid/internal/logger"
)

// Defaults applied by New when config fields are zero.
const (
	DefaultSizeLimit       = 1000
	DefaultTimeLimit       = 30 * time.Second
	DefaultIdleTimeout     = 10 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the LDAP server settings.
type Config struct {
	// BindAddress is the IP to bind to; empty binds all interfaces.
	BindAddress string

	// Port is the TCP port to listen on; 0 picks an ephemeral port
	// (config defaults this to 389).
	Port int

	// BaseDN is the directory suffix, e.g. "dc=example,dc=com".
	BaseDN string

	// BindDN/BindPassword are the optional service-account credentials.
	// When unset, any client may search without binding.
	BindDN       string
	BindPassword string

	// AllowAnonymousBind permits an empty simple bind even when a service
	// account is configured.
	AllowAnonymousBind bool

	// SizeLimit is the server-side cap on entries per search.
	SizeLimit int

	// MaxConnections limits concurrent client connections. 0 is unlimited.
	MaxConnections int

	// IdleTimeout closes connections with no traffic for this long.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight connections on stop.
	ShutdownTimeout time.Duration

	// VendorVersion is reported in the RootDSE.
	VendorVersion string
}

// SnapshotSource yields the snapshot a request should run against. Nil means
// no snapshot has been published yet.
type SnapshotSource interface {
	Current() *directory.Snapshot
}

// Metrics is the server's slice of pkg/metrics. Nil disables recording.
type Metrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	SetActiveConnections(count int32)
	RecordRequest(op, code string)
}

// Adapter is the LDAP front-end. Lifecycle: New → Serve (blocks) → Stop.
type Adapter struct {
	cfg       Config
	layout    *directory.Layout
	snapshots SnapshotSource
	metrics   Metrics

	listener   net.Listener
	listenerMu sync.RWMutex

	// ListenerReady is closed once the listener accepts connections;
	// tests use it to synchronize startup.
	ListenerReady chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// shutdownCtx aborts in-flight request handling during shutdown.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	conns       sync.Map // remote addr → net.Conn, for forced closure
	semaphore   chan struct{}

	now func() time.Time // the search time-limit clock, injectable in tests
}

// New builds the server. snapshots must not be nil; metrics may be.
func New(cfg Config, snapshots SnapshotSource, metrics Metrics) *Adapter {
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = DefaultSizeLimit
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	var semaphore chan struct{}
	if cfg.MaxConnections > 0 {
		semaphore = make(chan struct{}, cfg.MaxConnections)
	}
	shutdownCtx, cancelRequests := context.WithCancel(context.Background())
	return &Adapter{
		cfg:            cfg,
		layout:         directory.NewLayout(cfg.BaseDN),
		snapshots:      snapshots,
		metrics:        metrics,
		ListenerReady:  make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
		semaphore:      semaphore,
		now:            time.Now,
	}
}

// Addr returns the bound listener address, valid after ListenerReady.
func (a *Adapter) Addr() net.Addr {
	a.listenerMu.RLock()
	defer a.listenerMu.RUnlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.BindAddress, a.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ldap: listen on %s: %w", addr, err)
	}
	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()
	close(a.ListenerReady)

	logger.Info("LDAP server listening", "address", listener.Addr().String(), "base_dn", a.cfg.BaseDN)

	go func() {
		<-ctx.Done()
		a.initiateShutdown()
	}()

	for {
		if a.semaphore != nil {
			select {
			case a.semaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if a.semaphore != nil {
				<-a.semaphore
			}
			select {
			case <-a.shutdown:
				return a.gracefulShutdown()
			default:
				logger.Debug("accept failed", "error", err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		a.track(tcpConn)
	}
}

func (a *Adapter) track(tcpConn net.Conn) {
	a.activeConns.Add(1)
	active := a.connCount.Add(1)
	remote := tcpConn.RemoteAddr().String()
	a.conns.Store(remote, tcpConn)

	if a.metrics != nil {
		a.metrics.RecordConnectionAccepted()
		a.metrics.SetActiveConnections(active)
	}
	logger.Debug("LDAP connection accepted", "address", remote, "active", active)

	conn := a.newConnection(tcpConn)
	go func() {
		defer func() {
			a.conns.Delete(remote)
			a.activeConns.Done()
			remaining := a.connCount.Add(-1)
			if a.semaphore != nil {
				<-a.semaphore
			}
			if a.metrics != nil {
				a.metrics.RecordConnectionClosed()
				a.metrics.SetActiveConnections(remaining)
			}
			logger.Debug("LDAP connection closed", "address", remote, "active", remaining)
		}()
		conn.serve(a.shutdownCtx)
	}()
}

// Stop initiates shutdown and waits for connections up to ShutdownTimeout.
func (a *Adapter) Stop() {
	a.initiateShutdown()
	a.gracefulShutdown()
}

func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)
		a.listenerMu.RLock()
		if a.listener != nil {
			_ = a.listener.Close()
		}
		a.listenerMu.RUnlock()
		a.cancelRequests()
	})
}

// gracefulShutdown waits for active connections, force-closing stragglers
// after the timeout.
func (a *Adapter) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("LDAP server stopped")
		return nil
	case <-time.After(a.cfg.ShutdownTimeout):
	}

	forced := 0
	a.conns.Range(func(_, value any) bool {
		_ = value.(net.Conn).Close()
		forced++
		return true
	})
	logger.Warn("LDAP shutdown forced remaining connections closed", "count", forced)
	<-done
	return nil
}
