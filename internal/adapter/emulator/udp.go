package emulator

import (
	"errors"
	"net"

	"go.uber.org/zap"
)

const (
	DISCOVERY_REQUEST = "hame"
	DISCOVERY_REPLY   = "ack"

	datagramBufferSize = 1024
)

// DatagramHandler handles one received datagram. It runs on the socket's
// read goroutine.
type DatagramHandler func(conn *net.UDPConn, peer *net.UDPAddr, payload []byte)

func ListenUDP(port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp4", &net.UDPAddr{Port: port})
}

// ServeUDP reads datagrams until the lifecycle stops.
func ServeUDP(lc *Lifecycle, conn *net.UDPConn, logger *zap.Logger, handle DatagramHandler) {
	if !lc.Track(conn) {
		return
	}
	lc.Go(func() {
		defer lc.Untrack(conn)
		buf := make([]byte, datagramBufferSize)
		for !lc.Stopped() {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				if lc.Stopped() || errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Warn("udp@read error", zap.Error(err))
				continue
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			handle(conn, peer, payload)
		}
	})
}

// Discovery answers the plain "hame" handshake, at most once per dedupe
// window and peer.
type Discovery struct {
	Name    string
	Dedupe  *DedupeTable
	Logger  *zap.Logger
	Metrics *Metrics
}

// Handle reports whether payload was a discovery request.
func (d *Discovery) Handle(conn *net.UDPConn, peer *net.UDPAddr, payload []byte) bool {
	if string(payload) != DISCOVERY_REQUEST {
		return false
	}
	if !d.Dedupe.Allow(peer.String()) {
		d.Logger.Debug("discovery@hame deduped", zap.Stringer("peer", peer))
		d.Metrics.Datagram(d.Name, RESULT_DEDUPED)
		return true
	}
	if _, err := conn.WriteToUDP([]byte(DISCOVERY_REPLY), peer); err != nil {
		d.Logger.Warn("discovery@hame reply failed", zap.Stringer("peer", peer), zap.Error(err))
		return true
	}
	d.Logger.Debug("discovery@hame acked", zap.Stringer("peer", peer))
	d.Metrics.Datagram(d.Name, RESULT_ACK)
	return true
}
