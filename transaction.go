package mcumgr

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bigbag/go-mcumgr/console"
	"github.com/bigbag/go-mcumgr/smp"
)

// pollInterval is the single-read timeout used while waiting for a
// response; the attempt deadline is enforced around it.
const pollInterval = 100 * time.Millisecond

// errAttemptTimeout marks one attempt expiring; roundTrip converts it
// into a RequestTimeoutError once the budget runs out.
var errAttemptTimeout = errors.New("mcumgr: response wait expired")

// roundTrip performs one request/response exchange, resending on
// frame corruption or timeout up to the configured budget. It owns
// sequence allocation: every attempt goes out under a fresh sequence
// number, so a late response to an abandoned attempt can never satisfy
// a newer one. Callers must hold the session claim.
func (s *Session) roundTrip(req *smp.Packet, timeout time.Duration) (*smp.Packet, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	attempts := s.cfg.Retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		req.Seq = s.nextSeq()

		rsp, err := s.exchange(req, timeout)
		if err == nil {
			s.exchanged = true
			return rsp, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		s.log.Warn("request attempt failed",
			zap.Uint16("group", req.Group),
			zap.Uint8("command", req.Command),
			zap.Uint8("seq", req.Seq),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, &RequestTimeoutError{
		Group:    req.Group,
		Command:  req.Command,
		Attempts: attempts,
		Timeout:  timeout,
		Err:      lastErr,
	}
}

// exchange sends req and waits for its matching response.
func (s *Session) exchange(req *smp.Packet, timeout time.Duration) (*smp.Packet, error) {
	raw, err := req.Encode()
	if err != nil {
		return nil, err
	}
	wire, err := console.EncodePacket(raw, s.cfg.LineLength)
	if err != nil {
		return nil, err
	}

	s.log.Debug("request",
		zap.Uint8("op", req.Op),
		zap.Uint16("group", req.Group),
		zap.Uint8("command", req.Command),
		zap.Uint8("seq", req.Seq),
		zap.Int("bytes", len(raw)))

	if _, err := s.conn.Write(wire); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	return s.awaitResponse(req, timeout)
}

// awaitResponse reads console lines until a response matching req
// arrives or the attempt deadline passes. Responses carrying a stale
// sequence number or the wrong group, command or op are discarded and
// the wait continues.
func (s *Session) awaitResponse(req *smp.Packet, timeout time.Duration) (*smp.Packet, error) {
	wantOp := smp.ResponseOp(req.Op)
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errAttemptTimeout
		}
		poll := pollInterval
		if remaining < poll {
			poll = remaining
		}
		if err := s.conn.SetReadTimeout(poll); err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			continue
		}

		for _, line := range s.splitter.Push(buf[:n]) {
			packet, ferr := s.reasm.Feed(line)
			if ferr != nil {
				return nil, &TransportError{Op: "read", Err: ferr}
			}
			if packet == nil {
				continue
			}

			rsp, derr := smp.Decode(packet)
			if derr != nil {
				return nil, derr
			}

			if rsp.Seq != req.Seq || rsp.Group != req.Group ||
				rsp.Command != req.Command || rsp.Op != wantOp {
				s.log.Warn("discarding mismatched response",
					zap.Uint8("seq", rsp.Seq),
					zap.Uint8("want_seq", req.Seq),
					zap.Uint16("group", rsp.Group),
					zap.Uint8("command", rsp.Command))
				continue
			}

			s.log.Debug("response",
				zap.Uint8("seq", rsp.Seq),
				zap.Int("status", rsp.Status()))
			return rsp, nil
		}
	}
}

// retryable reports whether resending could clear the failure: expired
// attempts and frame-level corruption qualify, stream failures and
// malformed payloads do not.
func retryable(err error) bool {
	return errors.Is(err, errAttemptTimeout) || frameError(err)
}

// frameError reports whether err stems from console frame corruption.
func frameError(err error) bool {
	return errors.Is(err, console.ErrChecksumMismatch) ||
		errors.Is(err, console.ErrBadEncoding) ||
		errors.Is(err, console.ErrPacketInterrupted) ||
		errors.Is(err, console.ErrUnexpectedContinuation) ||
		errors.Is(err, console.ErrBadLength)
}

// isDisconnect reports whether err looks like the device dropping the
// stream while we waited for a response.
func isDisconnect(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "read" {
		return false
	}
	return !frameError(te.Err)
}
