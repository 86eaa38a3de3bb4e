package mcumgr

import (
	"github.com/bigbag/go-mcumgr/smp"
)

// Echo asks the device to echo text back, a cheap liveness probe.
func (s *Session) Echo(text string) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.end()

	fields := smp.NewMap().Set("d", smp.Str(text))
	req := smp.NewRequest(smp.OpWrite, smp.GroupOS, smp.CmdEcho, fields)
	rsp, err := s.roundTrip(req, s.opTimeout())
	if err != nil {
		return "", err
	}
	if err := checkStatus(rsp); err != nil {
		return "", err
	}

	r, ok := rsp.Fields.Str("r")
	if !ok {
		return "", &smp.MalformedError{Detail: `echo response lacks "r"`}
	}
	return r, nil
}

// Reset reboots the device. Some devices acknowledge before rebooting,
// others drop the line first; a stream teardown while waiting for the
// acknowledgement therefore counts as success. A silent device does
// not.
func (s *Session) Reset() error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	req := smp.NewRequest(smp.OpWrite, smp.GroupOS, smp.CmdReset, nil)
	rsp, err := s.roundTrip(req, s.opTimeout())
	if err != nil {
		if isDisconnect(err) {
			s.log.Debug("device dropped the line after reset request")
			return nil
		}
		return err
	}
	return checkStatus(rsp)
}
