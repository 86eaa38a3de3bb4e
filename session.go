package mcumgr

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/bigbag/go-mcumgr/console"
	"github.com/bigbag/go-mcumgr/serial"
)

// Conn is the byte stream a session talks through. serial.Port
// implements it; tests substitute scripted devices.
type Conn interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds a single Read call. An expired Read
	// returns (0, nil) rather than an error.
	SetReadTimeout(d time.Duration) error
}

// Session owns one management connection to a device. It is not safe
// for concurrent use; callers sharing a session across goroutines must
// serialize access themselves.
type Session struct {
	conn Conn
	cfg  Config
	log  *zap.Logger

	seq       uint8
	busy      bool
	closed    bool
	exchanged bool

	splitter console.Splitter
	reasm    *console.Reassembler
}

// Open opens the named serial device and wraps it in a session.
func Open(device string, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()

	port, err := serial.Open(device, cfg.BaudRate)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: err}
	}

	s := newSession(port, cfg)
	s.log.Info("session opened",
		zap.String("device", device),
		zap.Int("baud", cfg.BaudRate))
	return s, nil
}

// NewSession wraps an already-open stream in a session. The session
// takes ownership of conn and closes it on Close.
func NewSession(conn Conn, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()
	return newSession(conn, cfg)
}

func newSession(conn Conn, cfg Config) *Session {
	return &Session{
		conn:  conn,
		cfg:   cfg,
		log:   cfg.Logger,
		reasm: console.NewReassembler(),
	}
}

// Close releases the underlying stream. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// begin claims the session for one operation. Every public operation
// holds the claim until it returns, so a progress callback that calls
// back into the session fails fast instead of interleaving requests.
func (s *Session) begin() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.busy {
		return ErrSessionBusy
	}
	s.busy = true
	return nil
}

func (s *Session) end() { s.busy = false }

// nextSeq allocates a sequence number, wrapping at the field width.
func (s *Session) nextSeq() uint8 {
	n := s.seq
	s.seq++
	return n
}

// opTimeout picks the per-attempt timeout for facade operations: the
// first exchange on a fresh session gets the long initial budget,
// everything after it the short one.
func (s *Session) opTimeout() time.Duration {
	if !s.exchanged {
		return s.cfg.InitialTimeout
	}
	return s.cfg.Timeout
}
