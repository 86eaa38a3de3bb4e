package smp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the fixed SMP header length in bytes.
const HeaderSize = 8

// Packet is one logical SMP message, request or response.
type Packet struct {
	Op      uint8
	Version uint8
	Flags   uint8
	Group   uint16
	Seq     uint8
	Command uint8
	Fields  *Map
}

// NewRequest creates a request packet. The sequence number is assigned
// by the session when the packet is sent.
func NewRequest(op uint8, group uint16, command uint8, fields *Map) *Packet {
	return &Packet{Op: op, Group: group, Command: command, Fields: fields}
}

// MalformedError reports a payload or header that does not parse.
// It is never retried; the bytes themselves are wrong.
type MalformedError struct {
	Detail string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload: %s: %v", e.Detail, e.Err)
	}
	return "malformed payload: " + e.Detail
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Encode serializes the packet to header plus CBOR payload.
// Encoding cannot fail for well-typed field values.
func (p *Packet) Encode() ([]byte, error) {
	payload, err := encodeFields(p.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	// Header layout:
	// 0:   version (2 bits) | operation (3 bits)
	// 1:   flags
	// 2-3: payload length (big-endian)
	// 4-5: group id (big-endian)
	// 6:   sequence number
	// 7:   command id
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = p.Version<<3 | p.Op&0x07
	buf[1] = p.Flags
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint16(buf[4:6], p.Group)
	buf[6] = p.Seq
	buf[7] = p.Command
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// Decode parses a packet from raw bytes.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, &MalformedError{Detail: fmt.Sprintf("packet too short: %d bytes", len(data))}
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if int(length) != len(data)-HeaderSize {
		return nil, &MalformedError{
			Detail: fmt.Sprintf("declared payload length %d, have %d bytes", length, len(data)-HeaderSize),
		}
	}

	fields, err := decodeFields(data[HeaderSize:])
	if err != nil {
		return nil, err
	}

	return &Packet{
		Op:      data[0] & 0x07,
		Version: data[0] >> 3 & 0x03,
		Flags:   data[1],
		Group:   binary.BigEndian.Uint16(data[4:6]),
		Seq:     data[6],
		Command: data[7],
		Fields:  fields,
	}, nil
}

// Status returns the management status code carried in the payload.
// A missing "rc" field means success; newer devices report errors in
// an "err" map instead.
func (p *Packet) Status() int {
	if rc, ok := p.Fields.Int("rc"); ok {
		return int(rc)
	}
	if em, ok := p.Fields.MapAt("err"); ok {
		if rc, ok := em.Int("rc"); ok {
			return int(rc)
		}
	}
	return StatusOK
}

// ResponseOp returns the response operation matching a request operation.
func ResponseOp(op uint8) uint8 {
	switch op {
	case OpRead:
		return OpReadRsp
	case OpWrite:
		return OpWriteRsp
	default:
		return op
	}
}
