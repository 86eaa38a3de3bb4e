// Package smp implements the MCUmgr Simple Management Protocol packet
// codec: a fixed 8-byte header followed by a CBOR map of named fields.
//
// Header layout (big-endian):
//
//	0:   reserved | version (2 bits) | operation (3 bits)
//	1:   flags
//	2-3: payload length
//	4-5: group id
//	6:   sequence number
//	7:   command id
//
// Operations are read/write requests and their responses; the group id
// selects a management subsystem (OS, image, ...) and the command id an
// operation within it. The sequence number correlates a response with
// its request.
//
// Payload fields are represented by the Value/Map variant types rather
// than concrete structs, so fields this client does not know about pass
// through a decode unharmed. Typed accessors (Int, Str, Bool, Bytes)
// perform the conversion and validation at the codec boundary:
//
//	rsp, err := smp.Decode(raw)
//	off, ok := rsp.Fields.Int("off")
package smp
