package mcumgr

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bigbag/go-mcumgr/smp"
)

// uploadOverhead is the room left under the MTU for the request header
// and the first-chunk fields when deriving the default chunk size.
const uploadOverhead = 96

// errOffsetHeld marks an acknowledged chunk that did not advance the
// device offset.
var errOffsetHeld = errors.New("mcumgr: device held the upload offset")

// ProgressFunc receives the acknowledged offset after each advance.
type ProgressFunc func(offset, total int)

// UploadOption adjusts a single upload.
type UploadOption func(*uploadConfig)

type uploadConfig struct {
	image    int
	progress ProgressFunc
}

// WithImage selects the target image number for the upload.
func WithImage(n int) UploadOption {
	return func(c *uploadConfig) { c.image = n }
}

// WithProgress sets a callback invoked as the device acknowledges
// image data.
func WithProgress(fn ProgressFunc) UploadOption {
	return func(c *uploadConfig) { c.progress = fn }
}

// UploadResult reports where an upload ended.
type UploadResult struct {
	// Offset is the last device-acknowledged byte count; it equals the
	// image length on success.
	Offset int

	// Verified reports that the final image state query succeeded.
	Verified bool

	// Slots holds the device's image state after the transfer when the
	// verification query succeeded.
	Slots []ImageSlot
}

type uploadState int

const (
	stateProbing uploadState = iota
	stateTransferring
	stateVerifying
	stateDone
	stateFailed
)

func (st uploadState) String() string {
	switch st {
	case stateProbing:
		return "probing"
	case stateTransferring:
		return "transferring"
	case stateVerifying:
		return "verifying"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("uploadState(%d)", int(st))
	}
}

// uploadSession tracks one image transfer.
type uploadSession struct {
	image    []byte
	sha      []byte
	imageNum int
	chunk    int
	progress ProgressFunc

	offset  int
	retries int

	verified bool
	slots    []ImageSlot
}

// Upload transfers a firmware image to the device, resuming from
// whatever offset the device reports for it. The device paces the
// transfer: each chunk starts at the device-acknowledged offset, and a
// chunk the device did not absorb is resent rather than skipped, up to
// the configured retry budget per offset.
func (s *Session) Upload(image []byte, opts ...UploadOption) (*UploadResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	var cfg uploadConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	sha := sha256.Sum256(image)
	up := &uploadSession{
		image:    image,
		sha:      sha[:],
		imageNum: cfg.image,
		chunk:    s.chunkCeiling(),
		progress: cfg.progress,
	}

	s.log.Info("upload starting",
		zap.Int("bytes", len(image)),
		zap.Int("chunk", up.chunk),
		zap.Int("image", cfg.image))

	for state := stateProbing; state != stateDone; {
		next, err := s.uploadStep(up, state)
		if err != nil {
			s.log.Warn("upload failed",
				zap.String("state", next.String()),
				zap.Int("offset", up.offset),
				zap.Error(err))
			return nil, err
		}
		if next != state {
			s.log.Debug("upload state",
				zap.String("from", state.String()),
				zap.String("to", next.String()),
				zap.Int("offset", up.offset))
		}
		state = next
	}

	s.log.Info("upload complete",
		zap.Int("bytes", up.offset),
		zap.Bool("verified", up.verified))

	return &UploadResult{
		Offset:   up.offset,
		Verified: up.verified,
		Slots:    up.slots,
	}, nil
}

// uploadStep advances the transfer by one exchange and returns the
// next state. All transitions happen here.
func (s *Session) uploadStep(up *uploadSession, state uploadState) (uploadState, error) {
	switch state {
	case stateProbing:
		// A zero-length chunk at offset zero elicits the device's
		// current offset for this image without moving any data.
		rsp, err := s.sendChunk(up, 0)
		if err != nil {
			return stateFailed, err
		}
		if err := checkStatus(rsp); err != nil {
			return stateFailed, err
		}
		off, err := ackOffset(rsp, len(up.image))
		if err != nil {
			return stateFailed, err
		}
		if off > 0 {
			s.log.Info("resuming upload", zap.Int("offset", off))
		}
		up.offset = off
		return stateTransferring, nil

	case stateTransferring:
		if up.offset >= len(up.image) {
			return stateVerifying, nil
		}

		size := up.chunk
		if rest := len(up.image) - up.offset; rest < size {
			size = rest
		}

		rsp, err := s.sendChunk(up, size)
		if err != nil {
			if !IsTimeout(err) {
				return stateFailed, err
			}
			return s.chunkSetback(up, err)
		}
		if code := rsp.Status(); code != smp.StatusOK {
			// Chunks are idempotent, so a rejection at this offset is
			// worth resending before giving up.
			rejected := &DeviceError{Group: smp.GroupImage, Command: smp.CmdImageUpload, Code: code}
			return s.chunkSetback(up, rejected)
		}

		off, err := ackOffset(rsp, len(up.image))
		if err != nil {
			return stateFailed, err
		}
		if off <= up.offset {
			if off < up.offset {
				s.log.Warn("device moved the offset back",
					zap.Int("from", up.offset),
					zap.Int("to", off))
				up.offset = off
			}
			return s.chunkSetback(up, errOffsetHeld)
		}

		up.offset = off
		up.retries = 0
		if up.progress != nil {
			up.progress(off, len(up.image))
		}
		return stateTransferring, nil

	case stateVerifying:
		slots, err := s.listSlots()
		if err != nil {
			// The image is fully transferred at this point; a failed
			// confirmation query downgrades the result instead of
			// discarding the transfer.
			s.log.Warn("image state query after upload failed", zap.Error(err))
			return stateDone, nil
		}
		up.verified = true
		up.slots = slots
		return stateDone, nil

	default:
		return stateFailed, fmt.Errorf("mcumgr: upload reached invalid state %v", state)
	}
}

// sendChunk uploads size bytes starting at the current offset. Chunks
// at offset zero additionally carry the image number, total length and
// digest, and run under the initial timeout because the device erases
// flash before answering them.
func (s *Session) sendChunk(up *uploadSession, size int) (*smp.Packet, error) {
	fields := smp.NewMap()
	if up.offset == 0 {
		fields.Set("image", smp.Int(int64(up.imageNum))).
			Set("len", smp.Int(int64(len(up.image)))).
			Set("sha", smp.Bytes(up.sha))
	}
	fields.Set("off", smp.Int(int64(up.offset))).
		Set("data", smp.Bytes(up.image[up.offset:up.offset+size]))

	req := smp.NewRequest(smp.OpWrite, smp.GroupImage, smp.CmdImageUpload, fields)

	timeout := s.cfg.Timeout
	if up.offset == 0 {
		timeout = s.cfg.InitialTimeout
	}
	return s.roundTrip(req, timeout)
}

// chunkSetback books one failed attempt at the current offset and
// decides between resending and giving up.
func (s *Session) chunkSetback(up *uploadSession, cause error) (uploadState, error) {
	up.retries++
	if up.retries > s.cfg.Retries {
		return stateFailed, &UploadStalledError{
			Offset:   up.offset,
			Attempts: up.retries,
			Err:      cause,
		}
	}
	s.log.Warn("resending chunk",
		zap.Int("offset", up.offset),
		zap.Int("attempt", up.retries),
		zap.Error(cause))
	return stateTransferring, nil
}

// ackOffset extracts the device-acknowledged offset from an upload
// response. The device is authoritative, but an offset beyond the
// image length can only be garbage.
func ackOffset(rsp *smp.Packet, total int) (int, error) {
	v, ok := rsp.Fields.Int("off")
	if !ok {
		return 0, &smp.MalformedError{Detail: `upload response lacks "off"`}
	}
	off := int(v)
	if off < 0 || off > total {
		return 0, &smp.MalformedError{
			Detail: fmt.Sprintf("device acknowledged %d of %d bytes", off, total),
		}
	}
	return off, nil
}

// chunkCeiling derives the data bytes carried per upload request. An
// explicit chunk size wins; otherwise the ceiling leaves room under
// the MTU for the header and the first-chunk fields.
func (s *Session) chunkCeiling() int {
	if s.cfg.ChunkSize > 0 {
		return s.cfg.ChunkSize
	}
	c := s.cfg.MTU - uploadOverhead
	if c < 1 {
		c = 1
	}
	return c
}
