package smp

// Operation codes (low three bits of the first header byte)
const (
	OpRead     uint8 = 0x00
	OpReadRsp  uint8 = 0x01
	OpWrite    uint8 = 0x02
	OpWriteRsp uint8 = 0x03
)

// Protocol version bits (above the operation bits)
const (
	VersionLegacy uint8 = 0x00
	Version2      uint8 = 0x01
)

// Management groups
const (
	GroupOS    uint16 = 0x0000
	GroupImage uint16 = 0x0001
	GroupStat  uint16 = 0x0002
	GroupShell uint16 = 0x0008
	GroupFS    uint16 = 0x0009
)

// OS group commands
const (
	CmdEcho  uint8 = 0x00
	CmdReset uint8 = 0x05
)

// Image group commands
const (
	CmdImageState  uint8 = 0x00
	CmdImageUpload uint8 = 0x01
	CmdImageErase  uint8 = 0x05
)

// Management status codes carried in the "rc" payload field
const (
	StatusOK           = 0
	StatusUnknown      = 1
	StatusNoMemory     = 2
	StatusInvalid      = 3
	StatusTimeout      = 4
	StatusNoEntry      = 5
	StatusBadState     = 6
	StatusTooLarge     = 7
	StatusNotSupported = 8
	StatusCorrupt      = 9
	StatusBusy         = 10
)

// StatusText returns a human-readable message for a status code.
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "ok"
	case StatusUnknown:
		return "unknown error"
	case StatusNoMemory:
		return "out of memory"
	case StatusInvalid:
		return "invalid value"
	case StatusTimeout:
		return "device timeout"
	case StatusNoEntry:
		return "no such entry"
	case StatusBadState:
		return "bad state"
	case StatusTooLarge:
		return "response too large"
	case StatusNotSupported:
		return "not supported"
	case StatusCorrupt:
		return "corrupt payload"
	case StatusBusy:
		return "device busy"
	default:
		return "error"
	}
}
