package mcumgr

import (
	"io"
	"testing"
	"time"

	"github.com/bigbag/go-mcumgr/smp"
)

func TestReset_Acknowledged(t *testing.T) {
	var d *mockDevice
	d = newMockDevice(t, func(req *smp.Packet) *smp.Packet {
		if req.Op != smp.OpWrite || req.Group != smp.GroupOS || req.Command != smp.CmdReset {
			t.Errorf("request = op %d group %d command %d, want an OS reset write",
				req.Op, req.Group, req.Command)
		}
		// Acknowledge, then drop the line as the device reboots.
		d.readErr = io.EOF
		return rspFor(req, smp.NewMap().Set("rc", smp.Int(0)))
	})
	s := newTestSession(d)
	defer s.Close()

	if err := s.Reset(); err != nil {
		t.Errorf("Reset() returned error: %v", err)
	}
}

func TestReset_CloseWithoutAck(t *testing.T) {
	var d *mockDevice
	d = newMockDevice(t, func(req *smp.Packet) *smp.Packet {
		// The device reboots before answering.
		d.readErr = io.EOF
		return nil
	})
	s := newTestSession(d)
	defer s.Close()

	if err := s.Reset(); err != nil {
		t.Errorf("Reset() with an immediate disconnect = %v, want success", err)
	}
}

func TestReset_SilentDeviceTimesOut(t *testing.T) {
	d := newMockDevice(t, func(req *smp.Packet) *smp.Packet {
		return nil // no answer, no disconnect
	})
	s := newTestSession(d, WithInitialTimeout(40*time.Millisecond))
	defer s.Close()

	err := s.Reset()
	if !IsTimeout(err) {
		t.Fatalf("Reset() against a silent device = %v, want a request timeout", err)
	}
	if len(d.requests) != 3 {
		t.Errorf("device saw %d requests, want 3", len(d.requests))
	}
}
