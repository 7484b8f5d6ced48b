// Package ct001 emulates the B2500 CT001 meter: "hame"/"ack" discovery over
// UDP and "HM:a|b|c" readings streamed over TCP.
package ct001

import (
	"net"
	"sync"
	"time"

	"github.com/berfenger/b2500meter/internal/adapter/emulator"
	"go.uber.org/zap"
)

const DEFAULT_PORT = 12345

type Config struct {
	Name         string
	UDPPort      int
	TCPPort      int
	PollInterval time.Duration
	DedupeWindow time.Duration
	BeforeSend   emulator.BeforeSendFunc
	OnConnect    func(addr net.Addr)
	OnDisconnect func(addr net.Addr)
	AfterSend    func(addr net.Addr, message string)
}

type Emulator struct {
	cfg     Config
	logger  *zap.Logger
	metrics *emulator.Metrics

	mu        sync.Mutex
	lc        *emulator.Lifecycle
	udp       *net.UDPConn
	poll      *emulator.PollServer
	discovery *emulator.Discovery
}

func New(cfg Config, logger *zap.Logger, metrics *emulator.Metrics) *Emulator {
	if cfg.Name == "" {
		cfg.Name = "ct001"
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = emulator.DefaultDedupeWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	log := logger.With(zap.String("component", cfg.Name))
	return &Emulator{
		cfg:     cfg,
		logger:  log,
		metrics: metrics,
		discovery: &emulator.Discovery{
			Name:    cfg.Name,
			Dedupe:  emulator.NewDedupeTable(cfg.DedupeWindow),
			Logger:  log,
			Metrics: metrics,
		},
	}
}

func (e *Emulator) Name() string {
	return e.cfg.Name
}

func (e *Emulator) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lc != nil {
		return nil
	}

	udp, err := emulator.ListenUDP(e.cfg.UDPPort)
	if err != nil {
		return err
	}
	lc := emulator.NewLifecycle()
	emulator.ServeUDP(lc, udp, e.logger, e.handleDatagram)

	poll := emulator.NewPollServer(emulator.PollConfig{
		Name:         e.cfg.Name,
		PollInterval: e.cfg.PollInterval,
		Value:        emulator.NewSharedValue(),
		BeforeSend:   e.cfg.BeforeSend,
		OnConnect:    e.cfg.OnConnect,
		OnDisconnect: e.cfg.OnDisconnect,
		AfterSend:    e.cfg.AfterSend,
		Logger:       e.logger,
		Metrics:      e.metrics,
	}, lc)
	if err := poll.Listen(e.cfg.TCPPort); err != nil {
		lc.Stop()
		return err
	}

	e.lc, e.udp, e.poll = lc, udp, poll
	e.logger.Info("ct001@start listening",
		zap.Stringer("udp", udp.LocalAddr()), zap.Stringer("tcp", poll.Addr()))
	return nil
}

func (e *Emulator) handleDatagram(conn *net.UDPConn, peer *net.UDPAddr, payload []byte) {
	if e.discovery.Handle(conn, peer, payload) {
		return
	}
	e.logger.Debug("ct001@udp ignoring unknown message", zap.Stringer("peer", peer), zap.Binary("payload", payload))
	e.metrics.Datagram(e.cfg.Name, emulator.RESULT_IGNORED)
}

// Stop closes all sockets and waits for sessions to end. A stopped emulator
// can be started again.
func (e *Emulator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lc == nil {
		return
	}
	e.lc.Stop()
	e.lc, e.udp, e.poll = nil, nil, nil
	e.logger.Info("ct001@stop stopped")
}

func (e *Emulator) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lc != nil && !e.lc.Stopped()
}

func (e *Emulator) UDPAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.udp == nil {
		return nil
	}
	return e.udp.LocalAddr()
}

func (e *Emulator) TCPAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.poll == nil {
		return nil
	}
	return e.poll.Addr()
}
