package mcumgr

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/bigbag/go-mcumgr/console"
	"github.com/bigbag/go-mcumgr/smp"
)

// mockDevice implements Conn and behaves like a device on the far end
// of the console: it reassembles written frames into requests and
// hands each one to a handler whose response, if any, becomes
// readable bytes. A nil handler response keeps the device silent.
type mockDevice struct {
	t       *testing.T
	handler func(req *smp.Packet) *smp.Packet

	rx       bytes.Buffer
	splitter console.Splitter
	reasm    *console.Reassembler

	requests  []*smp.Packet
	closed    bool
	readErr   error // returned once rx drains
	holdReads int   // empty reads to serve before real data
}

func newMockDevice(t *testing.T, handler func(*smp.Packet) *smp.Packet) *mockDevice {
	t.Helper()
	return &mockDevice{t: t, handler: handler, reasm: console.NewReassembler()}
}

func (d *mockDevice) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	for _, line := range d.splitter.Push(p) {
		packet, err := d.reasm.Feed(line)
		if err != nil {
			d.t.Fatalf("device could not reassemble request: %v", err)
		}
		if packet == nil {
			continue
		}
		req, err := smp.Decode(packet)
		if err != nil {
			d.t.Fatalf("device could not decode request: %v", err)
		}
		d.requests = append(d.requests, req)
		if d.handler != nil {
			if rsp := d.handler(req); rsp != nil {
				d.queue(rsp)
			}
		}
	}
	return len(p), nil
}

func (d *mockDevice) Read(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if d.holdReads > 0 {
		d.holdReads--
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	if d.rx.Len() == 0 {
		if d.readErr != nil {
			return 0, d.readErr
		}
		// Nothing buffered; behave like an expired read timeout.
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return d.rx.Read(p)
}

func (d *mockDevice) SetReadTimeout(time.Duration) error { return nil }

func (d *mockDevice) Close() error {
	d.closed = true
	return nil
}

// queue frames a response packet and makes it readable.
func (d *mockDevice) queue(rsp *smp.Packet) {
	d.t.Helper()
	raw, err := rsp.Encode()
	if err != nil {
		d.t.Fatalf("device could not encode response: %v", err)
	}
	wire, err := console.EncodePacket(raw, console.DefaultLineLength)
	if err != nil {
		d.t.Fatalf("device could not frame response: %v", err)
	}
	d.rx.Write(wire)
}

// queueRaw makes arbitrary bytes readable, corruption included.
func (d *mockDevice) queueRaw(b []byte) {
	d.rx.Write(b)
}

// uploadRequests returns the decoded upload requests the device saw.
func (d *mockDevice) uploadRequests() []*smp.Packet {
	var out []*smp.Packet
	for _, req := range d.requests {
		if req.Group == smp.GroupImage && req.Command == smp.CmdImageUpload {
			out = append(out, req)
		}
	}
	return out
}

// rspFor builds a response matching a request's identity.
func rspFor(req *smp.Packet, fields *smp.Map) *smp.Packet {
	rsp := smp.NewRequest(smp.ResponseOp(req.Op), req.Group, req.Command, fields)
	rsp.Seq = req.Seq
	return rsp
}

// newTestSession wraps a device with timeouts short enough for tests.
func newTestSession(d *mockDevice, opts ...Option) *Session {
	base := []Option{
		WithTimeout(40 * time.Millisecond),
		WithInitialTimeout(200 * time.Millisecond),
		WithRetries(2),
	}
	return NewSession(d, append(base, opts...)...)
}

// flashSim models the device side of an image transfer: data is
// absorbed only when a chunk lands exactly at the write position, so
// duplicates and gaps hold the offset.
type flashSim struct {
	buf      []byte
	announce int
	off      int
}

func (f *flashSim) handle(req *smp.Packet) *smp.Map {
	off64, _ := req.Fields.Int("off")
	data, _ := req.Fields.Bytes("data")

	if off64 == 0 {
		if l, ok := req.Fields.Int("len"); ok {
			f.announce = int(l)
		}
		f.buf = f.buf[:0]
		f.off = 0
	}
	if int(off64) == f.off {
		f.buf = append(f.buf, data...)
		f.off += len(data)
	}
	return smp.NewMap().
		Set("rc", smp.Int(0)).
		Set("off", smp.Int(int64(f.off)))
}

// imageStateFields builds a one-slot image state response payload.
func imageStateFields(version string, hash []byte, active bool) *smp.Map {
	entry := smp.NewMap().
		Set("slot", smp.Int(0)).
		Set("version", smp.Str(version)).
		Set("hash", smp.Bytes(hash)).
		Set("bootable", smp.Bool(true)).
		Set("confirmed", smp.Bool(active)).
		Set("active", smp.Bool(active))
	return smp.NewMap().
		Set("images", smp.List(smp.MapValue(entry))).
		Set("splitStatus", smp.Int(0))
}

// testImage builds a deterministic image payload.
func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i * 7)
	}
	return img
}
