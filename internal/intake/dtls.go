package intake

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/srihari-976/W.A.R.N/internal/bridge"
)

var (
	// ErrDTLSCertRequired is returned when no certificate is configured and
	// insecure mode is not explicitly allowed.
	ErrDTLSCertRequired = errors.New("dtls intake requires a certificate (set allow_insecure to run without one)")

	// ErrDTLSClientCARequired is returned when client certificates are
	// required but no CA bundle is configured to verify them.
	ErrDTLSClientCARequired = errors.New("dtls intake requires a CA file when client certificates are required")
)

// DTLSConfig holds listener settings for agents pushing alerts over UDP.
type DTLSConfig struct {
	Address           string        `yaml:"address"`
	CertFile          string        `yaml:"cert_file"`
	KeyFile           string        `yaml:"key_file"`
	CAFile            string        `yaml:"ca_file"`
	RequireClientCert bool          `yaml:"require_client_cert"`
	AllowInsecure     bool          `yaml:"allow_insecure"`
	Workers           int           `yaml:"workers"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// DefaultDTLSConfig returns listener settings for the standard alert port.
func DefaultDTLSConfig() DTLSConfig {
	return DTLSConfig{
		Address:           ":5517",
		Workers:           4,
		MaxMessageSize:    65535,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
}

// datagram is one received payload with its transport provenance.
type datagram struct {
	data   []byte
	source string
}

// DTLSListener receives alert records over DTLS and hands each decoded
// record to the sink. Without certificates it can fall back to plain UDP,
// but only when the configuration opts into that explicitly.
type DTLSListener struct {
	cfg    DTLSConfig
	sink   AlertSink
	logger *slog.Logger

	listener  net.Listener
	udpConn   *net.UDPConn
	datagrams chan datagram
	done      chan struct{}
	wg        sync.WaitGroup
	started   atomic.Bool
	closed    atomic.Bool

	connections   atomic.Uint64
	handshakeErrs atomic.Uint64
	received      atomic.Uint64
	handled       atomic.Uint64
	rejected      atomic.Uint64
	dropped       atomic.Uint64
	failures      atomic.Uint64
}

// NewDTLSListener builds a listener. Zero-valued tuning fields take
// defaults; certificate requirements are checked up front.
func NewDTLSListener(cfg DTLSConfig, sink AlertSink, logger *slog.Logger) (*DTLSListener, error) {
	if sink == nil {
		return nil, fmt.Errorf("dtls intake: nil sink")
	}
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultDTLSConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = def.ConnectionTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	if !cfg.AllowInsecure && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return nil, ErrDTLSCertRequired
	}
	if cfg.RequireClientCert && cfg.CAFile == "" {
		return nil, ErrDTLSClientCARequired
	}

	return &DTLSListener{
		cfg:       cfg,
		sink:      sink,
		logger:    logger.With("component", "intake.dtls"),
		datagrams: make(chan datagram, cfg.Workers*100),
		done:      make(chan struct{}),
	}, nil
}

// Start binds the socket and launches the workers. With certificates
// configured the listener speaks DTLS; otherwise it falls back to plain
// UDP under AllowInsecure.
func (l *DTLSListener) Start(ctx context.Context) error {
	if l.started.Swap(true) {
		return fmt.Errorf("dtls intake: already started")
	}

	var err error
	if l.cfg.CertFile == "" || l.cfg.KeyFile == "" {
		err = l.startInsecure(ctx)
	} else {
		err = l.startSecure(ctx)
	}
	if err != nil {
		l.started.Store(false)
		return err
	}

	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker(ctx)
	}
	return nil
}

func (l *DTLSListener) startSecure(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(l.cfg.CertFile, l.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("dtls intake: load certificate: %w", err)
	}

	dtlsConfig := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, l.cfg.ConnectionTimeout)
		},
	}

	if l.cfg.RequireClientCert {
		caData, err := os.ReadFile(l.cfg.CAFile)
		if err != nil {
			return fmt.Errorf("dtls intake: load CA bundle: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caData) {
			return fmt.Errorf("dtls intake: CA bundle contains no certificates")
		}
		dtlsConfig.ClientCAs = caPool
		dtlsConfig.ClientAuth = dtls.RequireAndVerifyClientCert
	}

	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("dtls intake: resolve %s: %w", l.cfg.Address, err)
	}

	listener, err := dtls.Listen("udp", addr, dtlsConfig)
	if err != nil {
		return fmt.Errorf("dtls intake: listen: %w", err)
	}
	l.listener = listener

	l.logger.Info("dtls intake started",
		"address", listener.Addr().String(),
		"mutual_tls", l.cfg.RequireClientCert)

	l.wg.Add(1)
	go l.acceptLoop(ctx)

	return nil
}

func (l *DTLSListener) startInsecure(ctx context.Context) error {
	l.logger.Warn("SECURITY WARNING: starting alert intake WITHOUT encryption",
		"address", l.cfg.Address,
		"recommendation", "configure DTLS certificates for production")
	l.logger.Warn("SECURITY WARNING: alert records will cross the network in cleartext")

	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("dtls intake: resolve %s: %w", l.cfg.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("dtls intake: listen udp: %w", err)
	}
	l.udpConn = conn

	l.logger.Info("udp intake started (INSECURE)",
		"address", conn.LocalAddr().String())

	l.wg.Add(1)
	go l.receiveInsecure()

	return nil
}

// acceptLoop accepts DTLS sessions, polling with a short deadline so
// shutdown is noticed promptly.
func (l *DTLSListener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		default:
		}

		if dl, ok := l.listener.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := l.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-l.done:
				return
			default:
				l.handshakeErrs.Add(1)
				l.logger.Debug("dtls accept error", "error", err)
				continue
			}
		}

		l.connections.Add(1)
		l.wg.Add(1)
		go l.handleConn(ctx, conn)
	}
}

func (l *DTLSListener) handleConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	source := remoteIP(conn.RemoteAddr())
	l.logger.Debug("dtls session established", "remote", source)

	buffer := make([]byte, l.cfg.MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))

		n, err := conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				l.logger.Debug("dtls session idle, closing", "remote", source)
			} else {
				l.logger.Debug("dtls read ended", "remote", source, "error", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		l.enqueue(datagram{data: data, source: source})
	}
}

func (l *DTLSListener) receiveInsecure() {
	defer l.wg.Done()

	buffer := make([]byte, l.cfg.MaxMessageSize)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		l.udpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, remote, err := l.udpConn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-l.done:
				return
			default:
				l.logger.Debug("udp read error", "error", err)
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		l.enqueue(datagram{data: data, source: remote.IP.String()})
	}
}

// enqueue hands a payload to the worker pool. A full queue drops the
// payload and counts it; a UDP transport cannot apply backpressure.
func (l *DTLSListener) enqueue(d datagram) {
	l.received.Add(1)
	select {
	case l.datagrams <- d:
	default:
		l.dropped.Add(1)
		l.logger.Debug("datagram queue full, dropping", "source", d.source)
	}
}

func (l *DTLSListener) worker(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-l.done:
			return
		case d := <-l.datagrams:
			l.process(ctx, d)
		}
	}
}

func (l *DTLSListener) process(ctx context.Context, d datagram) {
	handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	var rec bridge.AlertRecord
	if err := json.Unmarshal(d.data, &rec); err != nil {
		l.rejected.Add(1)
		l.logger.Debug("dropping undecodable datagram",
			"source", d.source,
			"bytes", len(d.data),
			"error", err)
		return
	}

	if _, err := l.sink.Handle(handleCtx, &rec); err != nil {
		if errors.Is(err, bridge.ErrInvalidAlert) {
			l.rejected.Add(1)
			l.logger.Debug("dropping invalid alert",
				"source", d.source,
				"alert_id", rec.ID,
				"error", err)
			return
		}
		l.failures.Add(1)
		l.logger.Error("alert handling failed",
			"source", d.source,
			"alert_id", rec.ID,
			"error", err)
		return
	}

	l.handled.Add(1)
}

// Stop closes the socket and waits for workers to finish. Queued
// datagrams that no worker picked up are discarded.
func (l *DTLSListener) Stop() {
	if !l.started.Load() || l.closed.Swap(true) {
		return
	}

	close(l.done)
	if l.listener != nil {
		l.listener.Close()
	}
	if l.udpConn != nil {
		l.udpConn.Close()
	}
	l.wg.Wait()

	l.logger.Info("dtls intake stopped",
		"connections", l.connections.Load(),
		"received", l.received.Load(),
		"handled", l.handled.Load(),
		"rejected", l.rejected.Load(),
		"dropped", l.dropped.Load())
}

// Addr reports the bound address, or nil before Start. Useful when the
// configured port is 0.
func (l *DTLSListener) Addr() net.Addr {
	if l.listener != nil {
		return l.listener.Addr()
	}
	if l.udpConn != nil {
		return l.udpConn.LocalAddr()
	}
	return nil
}

// IsSecure reports whether the listener is speaking DTLS rather than
// plain UDP.
func (l *DTLSListener) IsSecure() bool {
	return l.listener != nil && l.udpConn == nil
}

// remoteIP extracts the bare IP from a transport address.
func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	return addr.String()
}

// Stats returns listener counters.
func (l *DTLSListener) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connections":      l.connections.Load(),
		"handshake_errors": l.handshakeErrs.Load(),
		"received":         l.received.Load(),
		"handled":          l.handled.Load(),
		"rejected":         l.rejected.Load(),
		"dropped":          l.dropped.Load(),
		"secure":           l.IsSecure(),
	}
}
