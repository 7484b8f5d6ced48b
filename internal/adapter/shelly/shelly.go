// Package shelly emulates the UDP RPC interface of Shelly energy meters.
package shelly

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/berfenger/b2500meter/internal/adapter/emulator"
	"github.com/berfenger/b2500meter/internal/core/domain"
	"go.uber.org/zap"
)

type Config struct {
	Name          string
	DeviceType    string
	DeviceID      string
	UDPPort       int
	MDNSAdvertise bool
}

type Emulator struct {
	cfg      Config
	resolver emulator.Resolver
	logger   *zap.Logger
	metrics  *emulator.Metrics

	mu         sync.Mutex
	lc         *emulator.Lifecycle
	udp        *net.UDPConn
	advertiser *Advertiser
}

func New(cfg Config, resolver emulator.Resolver, logger *zap.Logger, metrics *emulator.Metrics) *Emulator {
	if cfg.DeviceType == "" {
		cfg.DeviceType = domain.DEVICE_TYPE_SHELLY_PRO_3EM
	}
	if cfg.Name == "" {
		cfg.Name = cfg.DeviceType
	}
	return &Emulator{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger.With(zap.String("component", cfg.Name), zap.String("device_id", cfg.DeviceID)),
		metrics:  metrics,
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

	if e.cfg.MDNSAdvertise {
		port := udp.LocalAddr().(*net.UDPAddr).Port
		adv, err := Advertise(e.cfg.DeviceType, e.cfg.DeviceID, port)
		if err != nil {
			e.logger.Warn("shelly@start mdns advertisement failed", zap.Error(err))
		} else {
			e.advertiser = adv
		}
	}

	e.lc, e.udp = lc, udp
	e.logger.Info("shelly@start listening", zap.Stringer("udp", udp.LocalAddr()))
	return nil
}

func (e *Emulator) handleDatagram(lc *emulator.Lifecycle, conn *net.UDPConn, peer *net.UDPAddr, payload []byte) {
	req, err := parseRequest(payload)
	if err != nil {
		e.logger.Debug("shelly@udp invalid request", zap.Stringer("peer", peer), zap.Error(err))
		e.metrics.Datagram(e.cfg.Name, emulator.RESULT_MALFORMED)
		return
	}

	source, ok := e.resolver.ResolveAddr(peer)
	if !ok {
		e.logger.Warn("shelly@udp no power source for client", zap.Stringer("peer", peer))
		e.metrics.Datagram(e.cfg.Name, emulator.RESULT_NO_ROUTE)
		return
	}
	reading, err := source.Fetch(lc.Context())
	if err != nil {
		e.logger.Warn("shelly@udp fetch failed", zap.Stringer("peer", peer), zap.Error(err))
		e.metrics.Datagram(e.cfg.Name, emulator.RESULT_NO_VALUE)
		return
	}

	var result any
	switch req.Method {
	case METHOD_EM_GET_STATUS:
		result = NewEMStatus(reading)
	case METHOD_EM1_GET_STATUS:
		result = NewEM1Status(reading)
	default:
		e.logger.Debug("shelly@udp unsupported method", zap.String("method", req.Method))
		e.metrics.Datagram(e.cfg.Name, emulator.RESULT_IGNORED)
		return
	}

	response, err := json.Marshal(rpcResponse{
		ID:     req.ID,
		Src:    e.cfg.DeviceID,
		Dst:    responseDestination,
		Result: result,
	})
	if err != nil {
		e.logger.Error("shelly@udp encode response", zap.Error(err))
		return
	}
	if _, err := conn.WriteToUDP(response, peer); err != nil {
		e.logger.Warn("shelly@udp send failed", zap.Stringer("peer", peer), zap.Error(err))
		return
	}
	e.logger.Debug("shelly@udp sent response", zap.Stringer("peer", peer), zap.ByteString("response", response))
	e.metrics.Datagram(e.cfg.Name, emulator.RESULT_RESPONDED)
}

// Stop withdraws the mDNS record and closes the socket. A stopped emulator
// can be started again.
func (e *Emulator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lc == nil {
		return
	}
	if e.advertiser != nil {
		e.advertiser.Shutdown()
		e.advertiser = nil
	}
	e.lc.Stop()
	e.lc, e.udp = nil, nil
	e.logger.Info("shelly@stop stopped")
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
