// Package console implements the SMP serial console framing. A packet
// is wrapped in a big-endian length and a CRC16, base64 encoded, and
// split into marker-prefixed lines, so it survives a console that is
// not guaranteed to pass arbitrary binary and may interleave log text:
//
//	first line:        0x06 0x09 <base64 text> '\n'
//	continuation line: 0x04 0x14 <base64 text> '\n'
//
// The base64 body decodes to: length (2 bytes, counts packet plus CRC),
// packet bytes, CRC16 of the packet (2 bytes). Reassembly is complete
// when the declared length is reached and the checksum verifies.
package console

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// Line markers from the SMP serial transport definition.
var (
	startMarker = [2]byte{0x06, 0x09}
	contMarker  = [2]byte{0x04, 0x14}
)

const (
	// Terminator ends every frame line.
	Terminator = '\n'

	// DefaultLineLength bounds one console line, markers and
	// terminator included.
	DefaultLineLength = 128

	// MinLineLength is the smallest usable budget: two marker bytes,
	// one base64 group, and the terminator.
	MinLineLength = 2 + 4 + 1

	// MaxPacketLength bounds a reassembled packet; the length prefix
	// is 16 bits wide.
	MaxPacketLength = 65533
)

var (
	ErrBadEncoding            = errors.New("console: frame body is not valid base64")
	ErrChecksumMismatch       = errors.New("console: packet checksum mismatch")
	ErrUnexpectedContinuation = errors.New("console: continuation frame without a start frame")
	ErrPacketInterrupted      = errors.New("console: packet interrupted by a non-frame line")
	ErrBadLength              = errors.New("console: declared packet length invalid")
)

// EncodePacket frames a packet for the wire and returns the bytes of
// every line, ready to write. The base64 text is split at 4-character
// boundaries so the receive side can accumulate lines verbatim.
func EncodePacket(packet []byte, lineLen int) ([]byte, error) {
	if lineLen < MinLineLength {
		return nil, fmt.Errorf("console: line length %d below minimum %d", lineLen, MinLineLength)
	}
	if len(packet) > MaxPacketLength {
		return nil, fmt.Errorf("console: packet too large: %d bytes", len(packet))
	}

	body := make([]byte, len(packet)+4)
	binary.BigEndian.PutUint16(body[0:2], uint16(len(packet)+2))
	copy(body[2:], packet)
	binary.BigEndian.PutUint16(body[len(body)-2:], CRC16(packet))

	text := make([]byte, base64.StdEncoding.EncodedLen(len(body)))
	base64.StdEncoding.Encode(text, body)

	budget := (lineLen - 3) / 4 * 4
	out := make([]byte, 0, len(text)+3*(len(text)/budget+1))
	for off := 0; off < len(text); off += budget {
		end := off + budget
		if end > len(text) {
			end = len(text)
		}
		if off == 0 {
			out = append(out, startMarker[0], startMarker[1])
		} else {
			out = append(out, contMarker[0], contMarker[1])
		}
		out = append(out, text[off:end]...)
		out = append(out, Terminator)
	}
	return out, nil
}

// Reassembler states. After an abort the remaining continuation lines
// of the lost packet are drained silently, so one corrupt line costs
// exactly one reassembly failure.
const (
	stateIdle = iota
	stateCollecting
	stateDraining
)

// Reassembler accumulates marker-prefixed lines back into one packet.
// Feed it whole lines without their terminators.
type Reassembler struct {
	text  []byte
	state int
}

// NewReassembler returns an idle Reassembler.
func NewReassembler() *Reassembler { return &Reassembler{} }

// Reset discards any partially assembled packet.
func (r *Reassembler) Reset() {
	r.text = r.text[:0]
	r.state = stateIdle
}

func (r *Reassembler) abort() {
	r.text = r.text[:0]
	r.state = stateDraining
}

// Feed consumes one line. It returns the completed packet once the
// declared length is reached and the checksum verifies, or (nil, nil)
// while more lines are needed. Lines that are not frames are ignored
// while idle; a corrupt line while collecting aborts the packet.
func (r *Reassembler) Feed(line []byte) ([]byte, error) {
	switch {
	case len(line) >= 2 && line[0] == startMarker[0] && line[1] == startMarker[1]:
		// A start marker always begins a fresh packet, dropping any
		// half-collected one.
		r.text = r.text[:0]
		r.state = stateCollecting
		return r.accumulate(line[2:])

	case len(line) >= 2 && line[0] == contMarker[0] && line[1] == contMarker[1]:
		switch r.state {
		case stateCollecting:
			return r.accumulate(line[2:])
		case stateDraining:
			return nil, nil
		default:
			return nil, ErrUnexpectedContinuation
		}

	default:
		// Console log noise. Harmless between packets, fatal to one
		// being collected.
		if r.state == stateCollecting {
			r.abort()
			return nil, ErrPacketInterrupted
		}
		return nil, nil
	}
}

func (r *Reassembler) accumulate(body []byte) ([]byte, error) {
	// Lines are split at 4-character boundaries on the send side, so a
	// body breaking the grouping can never decode.
	if len(body)%4 != 0 {
		r.abort()
		return nil, ErrBadEncoding
	}
	r.text = append(r.text, body...)

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(r.text)))
	n, err := base64.StdEncoding.Decode(decoded, r.text)
	if err != nil {
		r.abort()
		return nil, ErrBadEncoding
	}
	decoded = decoded[:n]

	if len(decoded) < 2 {
		return nil, nil
	}
	declared := int(binary.BigEndian.Uint16(decoded[0:2]))
	if declared < 2 {
		r.abort()
		return nil, ErrBadLength
	}
	if len(decoded) < 2+declared {
		return nil, nil
	}

	packet := decoded[2:declared]
	crc := binary.BigEndian.Uint16(decoded[declared : declared+2])
	r.Reset()
	if CRC16(packet) != crc {
		return nil, ErrChecksumMismatch
	}
	return packet, nil
}

// Splitter extracts terminator-delimited lines from a byte stream that
// may arrive in arbitrary pieces. A trailing carriage return is
// stripped; some consoles emit CRLF.
type Splitter struct {
	buf []byte
}

// Push appends stream bytes and returns any complete lines, without
// their terminators.
func (s *Splitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(s.buf, Terminator)
		if i < 0 {
			return lines
		}
		end := i
		if end > 0 && s.buf[end-1] == '\r' {
			end--
		}
		line := make([]byte, end)
		copy(line, s.buf[:end])
		lines = append(lines, line)
		s.buf = s.buf[i+1:]
	}
}

// Reset discards any buffered partial line.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
}
