package smp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncode_HeaderLayout(t *testing.T) {
	p := NewRequest(OpWrite, GroupImage, CmdImageUpload, NewMap().Set("off", Int(0)))
	p.Seq = 0x2A

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if raw[0] != OpWrite {
		t.Errorf("header byte 0 = 0x%02X, want 0x%02X", raw[0], OpWrite)
	}
	if raw[1] != 0 {
		t.Errorf("flags = 0x%02X, want 0x00", raw[1])
	}
	if got := int(binary.BigEndian.Uint16(raw[2:4])); got != len(raw)-HeaderSize {
		t.Errorf("declared payload length = %d, want %d", got, len(raw)-HeaderSize)
	}
	if got := binary.BigEndian.Uint16(raw[4:6]); got != GroupImage {
		t.Errorf("group = %d, want %d", got, GroupImage)
	}
	if raw[6] != 0x2A {
		t.Errorf("seq = 0x%02X, want 0x2A", raw[6])
	}
	if raw[7] != CmdImageUpload {
		t.Errorf("command = 0x%02X, want 0x%02X", raw[7], CmdImageUpload)
	}
}

func TestEncode_VersionBits(t *testing.T) {
	p := NewRequest(OpRead, GroupOS, CmdEcho, nil)
	p.Version = Version2

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if raw[0] != Version2<<3|OpRead {
		t.Errorf("header byte 0 = 0x%02X, want 0x%02X", raw[0], Version2<<3|OpRead)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Version != Version2 {
		t.Errorf("Version = %d, want %d", decoded.Version, Version2)
	}
	if decoded.Op != OpRead {
		t.Errorf("Op = %d, want %d", decoded.Op, OpRead)
	}
}

func TestEncode_EmptyFields(t *testing.T) {
	p := NewRequest(OpWrite, GroupOS, CmdReset, nil)

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Empty payload is the empty CBOR map, one byte.
	expected := []byte{0xA0}
	if !bytes.Equal(raw[HeaderSize:], expected) {
		t.Errorf("payload = %v, want %v", raw[HeaderSize:], expected)
	}
}

func TestEncode_CanonicalPayload(t *testing.T) {
	// Keys sort canonically on the wire regardless of insertion order.
	p := NewRequest(OpWrite, GroupImage, CmdImageUpload,
		NewMap().Set("off", Int(7)).Set("d", Bytes([]byte{0x01})))

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	expected := []byte{0xA2, 0x61, 'd', 0x41, 0x01, 0x63, 'o', 'f', 'f', 0x07}
	if !bytes.Equal(raw[HeaderSize:], expected) {
		t.Errorf("payload = %v, want %v", raw[HeaderSize:], expected)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	packets := []*Packet{
		NewRequest(OpWrite, GroupOS, CmdReset, nil),
		NewRequest(OpRead, GroupImage, CmdImageState, NewMap()),
		NewRequest(OpWrite, GroupOS, CmdEcho, NewMap().Set("d", Str("hello"))),
		NewRequest(OpWrite, GroupImage, CmdImageUpload, NewMap().
			Set("image", Int(0)).
			Set("data", Bytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})).
			Set("len", Int(300000)).
			Set("off", Int(0)).
			Set("sha", Bytes(make([]byte, 32)))),
		NewRequest(OpReadRsp, GroupImage, CmdImageState, NewMap().
			Set("images", List(
				MapValue(NewMap().
					Set("slot", Int(0)).
					Set("version", Str("1.0.0")).
					Set("active", Bool(true))),
			)).
			Set("splitStatus", Int(0))),
		NewRequest(OpWriteRsp, GroupImage, CmdImageUpload, NewMap().
			Set("rc", Int(0)).
			Set("off", Int(8192)).
			Set("spare", Value{})),
	}

	for i, p := range packets {
		p.Seq = uint8(i * 17)

		raw, err := p.Encode()
		if err != nil {
			t.Fatalf("case %d: Encode() error = %v", i, err)
		}

		decoded, err := Decode(raw)
		if err != nil {
			t.Fatalf("case %d: Decode() error = %v", i, err)
		}

		if decoded.Op != p.Op || decoded.Group != p.Group || decoded.Command != p.Command {
			t.Errorf("case %d: header = (%d, %d, %d), want (%d, %d, %d)",
				i, decoded.Op, decoded.Group, decoded.Command, p.Op, p.Group, p.Command)
		}
		if decoded.Seq != p.Seq {
			t.Errorf("case %d: seq = %d, want %d", i, decoded.Seq, p.Seq)
		}
		if !decoded.Fields.Equal(p.Fields) {
			t.Errorf("case %d: fields = %v, want %v", i, decoded.Fields.Keys(), p.Fields.Keys())
		}
	}
}

func TestDecode_TooShort(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {0x02}, {0x02, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00}} {
		_, err := Decode(data)
		if err == nil {
			t.Errorf("Decode(%v) error = nil, want malformed", data)
			continue
		}
		if !IsMalformed(err) {
			t.Errorf("Decode(%v) error = %v, want MalformedError", data, err)
		}
	}
}

func TestDecode_LengthMismatch(t *testing.T) {
	p := NewRequest(OpWrite, GroupOS, CmdEcho, NewMap().Set("d", Str("x")))
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Declare one byte more than is present.
	binary.BigEndian.PutUint16(raw[2:4], uint16(len(raw)-HeaderSize+1))

	_, err = Decode(raw)
	if !IsMalformed(err) {
		t.Errorf("Decode() error = %v, want MalformedError", err)
	}
}

func TestDecode_BadCBOR(t *testing.T) {
	raw := []byte{OpWriteRsp, 0, 0x00, 0x03, 0x00, 0x01, 0x00, 0x01, 0xA1, 0xFF, 0xFF}

	_, err := Decode(raw)
	if !IsMalformed(err) {
		t.Errorf("Decode() error = %v, want MalformedError", err)
	}
}

func TestDecode_NonMapPayload(t *testing.T) {
	// Payload is the CBOR integer 5, not a map.
	raw := []byte{OpWriteRsp, 0, 0x00, 0x01, 0x00, 0x01, 0x00, 0x01, 0x05}

	_, err := Decode(raw)
	if !IsMalformed(err) {
		t.Errorf("Decode() error = %v, want MalformedError", err)
	}
}

func TestStatus_MissingRcIsOK(t *testing.T) {
	p := &Packet{Fields: NewMap().Set("off", Int(100))}
	if got := p.Status(); got != StatusOK {
		t.Errorf("Status() = %d, want %d", got, StatusOK)
	}

	p = &Packet{}
	if got := p.Status(); got != StatusOK {
		t.Errorf("Status() with nil fields = %d, want %d", got, StatusOK)
	}
}

func TestStatus_RcField(t *testing.T) {
	p := &Packet{Fields: NewMap().Set("rc", Int(int64(StatusNoMemory)))}
	if got := p.Status(); got != StatusNoMemory {
		t.Errorf("Status() = %d, want %d", got, StatusNoMemory)
	}
}

func TestStatus_V2ErrorMap(t *testing.T) {
	p := &Packet{Fields: NewMap().Set("err", MapValue(NewMap().
		Set("group", Int(1)).
		Set("rc", Int(int64(StatusBadState)))))}
	if got := p.Status(); got != StatusBadState {
		t.Errorf("Status() = %d, want %d", got, StatusBadState)
	}
}

func TestResponseOp(t *testing.T) {
	if got := ResponseOp(OpRead); got != OpReadRsp {
		t.Errorf("ResponseOp(OpRead) = %d, want %d", got, OpReadRsp)
	}
	if got := ResponseOp(OpWrite); got != OpWriteRsp {
		t.Errorf("ResponseOp(OpWrite) = %d, want %d", got, OpWriteRsp)
	}
}
