package emulator

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HELLO_REQUEST = "hello"

	pollTick = 10 * time.Millisecond
)

type sessionState int

const (
	stateAwaitHello sessionState = iota
	statePolling
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitHello:
		return "await_hello"
	case statePolling:
		return "polling"
	}
	return "closed"
}

type PollConfig struct {
	Name         string
	PollInterval time.Duration
	Value        *SharedValue
	BeforeSend   BeforeSendFunc
	OnConnect    func(addr net.Addr)
	OnDisconnect func(addr net.Addr)
	AfterSend    func(addr net.Addr, message string)
	Logger       *zap.Logger
	Metrics      *Metrics
}

// PollServer streams "HM:a|b|c" readings to every TCP client that greets it
// with "hello".
type PollServer struct {
	cfg      PollConfig
	lc       *Lifecycle
	listener net.Listener
}

func NewPollServer(cfg PollConfig, lc *Lifecycle) *PollServer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Value == nil {
		cfg.Value = NewSharedValue()
	}
	return &PollServer{cfg: cfg, lc: lc}
}

func (s *PollServer) Listen(port int) error {
	listener, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: port})
	if err != nil {
		return err
	}
	if !s.lc.Track(listener) {
		return errors.New("emulator stopped")
	}
	s.listener = listener
	s.lc.Go(s.acceptLoop)
	return nil
}

func (s *PollServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *PollServer) acceptLoop() {
	defer s.lc.Untrack(s.listener)
	for !s.lc.Stopped() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.lc.Stopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.cfg.Logger.Warn("tcp@accept error", zap.Error(err))
			continue
		}
		if !s.lc.Track(conn) {
			return
		}
		s.lc.Go(func() { s.session(conn) })
	}
}

type session struct {
	conn     net.Conn
	peer     net.Addr
	logger   *zap.Logger
	lastSend time.Time
	peerGone atomic.Bool
}

func (s *PollServer) session(conn net.Conn) {
	sess := &session{
		conn: conn,
		peer: conn.RemoteAddr(),
		logger: s.cfg.Logger.With(
			zap.String("session", uuid.NewString()),
			zap.Stringer("peer", conn.RemoteAddr()),
		),
	}
	sess.logger.Info("tcp@session connection established")
	s.cfg.Metrics.SessionOpened(s.cfg.Name)

	defer func() {
		conn.Close()
		s.lc.Untrack(conn)
		s.cfg.Metrics.SessionClosed(s.cfg.Name)
		sess.logger.Info("tcp@session connection closed")
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(sess.peer)
		}
	}()

	state := stateAwaitHello
	for state != stateClosed {
		switch state {
		case stateAwaitHello:
			state = s.awaitHello(sess)
		case statePolling:
			state = s.poll(sess)
		}
	}
}

func (s *PollServer) awaitHello(sess *session) sessionState {
	buf := make([]byte, datagramBufferSize)
	n, err := sess.conn.Read(buf)
	if err != nil {
		sess.logger.Debug("tcp@await_hello read failed", zap.Error(err))
		return stateClosed
	}
	if string(buf[:n]) != HELLO_REQUEST {
		sess.logger.Warn("tcp@await_hello unknown message", zap.ByteString("payload", buf[:n]))
		return stateClosed
	}
	sess.logger.Debug("tcp@await_hello received hello")
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(sess.peer)
	}
	s.lc.Go(func() { drainUntilClosed(sess) })
	return statePolling
}

// drainUntilClosed notices a peer hanging up without waiting for the next
// write to fail.
func drainUntilClosed(sess *session) {
	buf := make([]byte, datagramBufferSize)
	for {
		if _, err := sess.conn.Read(buf); err != nil {
			sess.peerGone.Store(true)
			return
		}
	}
}

func (s *PollServer) poll(sess *session) sessionState {
	for !s.lc.Stopped() {
		if sess.peerGone.Load() {
			sess.logger.Debug("tcp@polling peer hung up")
			return stateClosed
		}
		if time.Since(sess.lastSend) < s.cfg.PollInterval {
			time.Sleep(pollTick)
			continue
		}

		reading, ok := s.cfg.Value.Refresh(s.lc.Context(), sess.peer, s.cfg.BeforeSend)
		if !ok {
			sess.logger.Info("tcp@polling no value to send")
			return stateClosed
		}
		message := FormatPollMessage(reading)
		if _, err := sess.conn.Write([]byte(message)); err != nil {
			sess.logger.Warn("tcp@polling write failed", zap.Error(err))
			return stateClosed
		}
		sess.lastSend = time.Now()
		s.cfg.Metrics.MessageSent(s.cfg.Name)
		sess.logger.Debug("tcp@polling sent", zap.String("message", message))
		if s.cfg.AfterSend != nil {
			s.cfg.AfterSend(sess.peer, message)
		}
	}
	return stateClosed
}

// FormatPollMessage renders the first three phases rounded half to even.
func FormatPollMessage(reading domain.Reading) string {
	return fmt.Sprintf("HM:%d|%d|%d",
		RoundWatts(reading.Phase(0)),
		RoundWatts(reading.Phase(1)),
		RoundWatts(reading.Phase(2)))
}

func RoundWatts(v float64) int {
	return int(math.RoundToEven(v))
}
