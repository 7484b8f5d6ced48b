// Package ct002 emulates the CT002 meter. It answers framed UDP queries and
// keeps the CT001 discovery and TCP streaming paths for older batteries.
package ct002

import (
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/b2500meter/internal/adapter/emulator"
	"github.com/berfenger/b2500meter/pkg/ctframe"
	"go.uber.org/zap"
)

const (
	DEFAULT_PORT        = 12345
	DEFAULT_DEVICE_TYPE = "HMG-50"
	DEFAULT_BATTERY_MAC = "001122334455"
	DEFAULT_CT_MAC      = "009c17abcdef"
	DEFAULT_CT_TYPE     = "HME-4"

	BROADCAST_CT_MAC = "000000000000"

	minRequestFields = 4
)

type Config struct {
	Name         string
	UDPPort      int
	TCPPort      int
	PollInterval time.Duration
	DedupeWindow time.Duration

	CTMac      string
	CTType     string
	BatteryMac string
	// EnforceBatteryMAC drops queries from batteries that are neither
	// BatteryMac nor listed in DiscoveryBatteryMacs.
	EnforceBatteryMAC    bool
	DiscoveryBatteryMacs []string

	BeforeSend   emulator.BeforeSendFunc
	OnConnect    func(addr net.Addr)
	OnDisconnect func(addr net.Addr)
	AfterSend    func(addr net.Addr, message string)
}

type Emulator struct {
	cfg       Config
	logger    *zap.Logger
	metrics   *emulator.Metrics
	value     *emulator.SharedValue
	discovery *emulator.Discovery

	mu   sync.Mutex
	lc   *emulator.Lifecycle
	udp  *net.UDPConn
	poll *emulator.PollServer
}

func New(cfg Config, logger *zap.Logger, metrics *emulator.Metrics) *Emulator {
	if cfg.Name == "" {
		cfg.Name = "ct002"
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = emulator.DefaultDedupeWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CTMac == "" {
		cfg.CTMac = DEFAULT_CT_MAC
	}
	if cfg.CTType == "" {
		cfg.CTType = DEFAULT_CT_TYPE
	}
	if cfg.BatteryMac == "" {
		cfg.BatteryMac = DEFAULT_BATTERY_MAC
	}
	if len(cfg.DiscoveryBatteryMacs) == 0 {
		cfg.DiscoveryBatteryMacs = []string{DEFAULT_BATTERY_MAC}
	}
	log := logger.With(zap.String("component", cfg.Name))
	return &Emulator{
		cfg:     cfg,
		logger:  log,
		metrics: metrics,
		value:   emulator.NewSharedValue(),
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
	emulator.ServeUDP(lc, udp, e.logger, func(conn *net.UDPConn, peer *net.UDPAddr, payload []byte) {
		e.handleDatagram(lc, conn, peer, payload)
	})

	poll := emulator.NewPollServer(emulator.PollConfig{
		Name:         e.cfg.Name,
		PollInterval: e.cfg.PollInterval,
		Value:        e.value,
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
	e.logger.Info("ct002@start listening",
		zap.Stringer("udp", udp.LocalAddr()), zap.Stringer("tcp", poll.Addr()),
		zap.String("ct_mac", e.cfg.CTMac), zap.String("ct_type", e.cfg.CTType))
	return nil
}

func (e *Emulator) handleDatagram(lc *emulator.Lifecycle, conn *net.UDPConn, peer *net.UDPAddr, payload []byte) {
	if e.discovery.Handle(conn, peer, payload) {
		return
	}

	fields, err := ctframe.ParseRequest(payload)
	if err != nil {
		e.logger.Debug("ct002@udp invalid request", zap.Stringer("peer", peer), zap.Error(err))
		e.metrics.Datagram(e.cfg.Name, emulator.RESULT_MALFORMED)
		return
	}
	if !e.accepts(fields) {
		e.logger.Debug("ct002@udp request not addressed to us", zap.Stringer("peer", peer), zap.Strings("fields", fields))
		e.metrics.Datagram(e.cfg.Name, emulator.RESULT_IGNORED)
		return
	}
	e.logger.Debug("ct002@udp valid request", zap.Stringer("peer", peer), zap.Strings("fields", fields))

	reading, ok := e.value.Refresh(lc.Context(), peer, e.cfg.BeforeSend)
	if !ok {
		e.logger.Info("ct002@udp no value to send", zap.Stringer("peer", peer))
		e.metrics.Datagram(e.cfg.Name, emulator.RESULT_NO_VALUE)
		return
	}
	response := ctframe.BuildResponse(fields, ctframe.Identity{CTType: e.cfg.CTType, CTMac: e.cfg.CTMac},
		emulator.RoundWatts(reading.Phase(0)),
		emulator.RoundWatts(reading.Phase(1)),
		emulator.RoundWatts(reading.Phase(2)))
	if _, err := conn.WriteToUDP(response, peer); err != nil {
		e.logger.Warn("ct002@udp send failed", zap.Stringer("peer", peer), zap.Error(err))
		return
	}
	e.logger.Debug("ct002@udp sent response", zap.Stringer("peer", peer), zap.String("frame", ctframe.Readable(response)))
	e.metrics.Datagram(e.cfg.Name, emulator.RESULT_RESPONDED)
}

// accepts checks the request is addressed to this CT, or is a broadcast.
func (e *Emulator) accepts(fields []string) bool {
	if len(fields) < minRequestFields {
		return false
	}
	ctMac := fields[3]
	if !strings.EqualFold(ctMac, e.cfg.CTMac) && ctMac != BROADCAST_CT_MAC {
		return false
	}
	if e.cfg.EnforceBatteryMAC {
		batteryMac := strings.ToLower(fields[1])
		if batteryMac != strings.ToLower(e.cfg.BatteryMac) &&
			!slices.ContainsFunc(e.cfg.DiscoveryBatteryMacs, func(m string) bool { return strings.EqualFold(m, batteryMac) }) {
			return false
		}
	}
	return true
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
	e.logger.Info("ct002@stop stopped")
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
