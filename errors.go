package mcumgr

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/go-mcumgr/smp"
)

// Contract violations; these fail fast and are never retried.
var (
	ErrSessionBusy   = errors.New("mcumgr: an operation is already in progress on this session")
	ErrSessionClosed = errors.New("mcumgr: session is closed")
)

// TransportError reports a stream or framing failure between client
// and device.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestTimeoutError reports that no matching response arrived within
// the attempt budget. Err holds the last attempt's failure, if any.
type RequestTimeoutError struct {
	Group    uint16
	Command  uint8
	Attempts int
	Timeout  time.Duration
	Err      error
}

func (e *RequestTimeoutError) Error() string {
	msg := fmt.Sprintf("no response for group %d command %d after %d attempts of %v",
		e.Group, e.Command, e.Attempts, e.Timeout)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestTimeoutError) Unwrap() error { return e.Err }

// DeviceError reports an explicit error status from the device for a
// well-formed request. Resending an inherently rejected request cannot
// succeed, so it is not retried outside an upload transfer.
type DeviceError struct {
	Group   uint16
	Command uint8
	Code    int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected group %d command %d: %s (%d)",
		e.Group, e.Command, smp.StatusText(e.Code), e.Code)
}

// UploadStalledError reports an upload whose retry budget ran out with
// the device stuck at Offset.
type UploadStalledError struct {
	Offset   int
	Attempts int
	Err      error
}

func (e *UploadStalledError) Error() string {
	msg := fmt.Sprintf("upload stalled at offset %d after %d attempts", e.Offset, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadStalledError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	var te *RequestTimeoutError
	return errors.As(err, &te)
}

// IsDeviceError reports whether err is an explicit device rejection.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// checkStatus converts a nonzero device status into a DeviceError.
func checkStatus(rsp *smp.Packet) error {
	if code := rsp.Status(); code != smp.StatusOK {
		return &DeviceError{Group: rsp.Group, Command: rsp.Command, Code: code}
	}
	return nil
}
