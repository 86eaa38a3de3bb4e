package mcumgr

import (
	"time"

	"go.uber.org/zap"

	"github.com/bigbag/go-mcumgr/console"
)

// Defaults for the session configuration.
const (
	DefaultBaudRate       = 115200
	DefaultInitialTimeout = 60 * time.Second
	DefaultTimeout        = 200 * time.Millisecond
	DefaultRetries        = 4
	DefaultLineLength     = console.DefaultLineLength
	DefaultMTU            = 512
)

// Config holds the session configuration.
type Config struct {
	// BaudRate is passed to the serial port by Open. Sessions built
	// around an existing stream ignore it.
	BaudRate int

	// InitialTimeout bounds the first exchange of a session and any
	// upload request at offset zero; devices erase flash before
	// answering those.
	InitialTimeout time.Duration

	// Timeout bounds every other request attempt.
	Timeout time.Duration

	// Retries is how many times a failed request is resent after the
	// first attempt.
	Retries int

	// LineLength bounds one console frame line, terminator included.
	LineLength int

	// MTU bounds one encoded request before console framing.
	MTU int

	// ChunkSize caps the image bytes carried per upload request. Zero
	// derives the cap from the MTU.
	ChunkSize int

	// Logger receives session diagnostics. Nil means no logging.
	Logger *zap.Logger
}

func defaultConfig() Config {
	return Config{
		BaudRate:       DefaultBaudRate,
		InitialTimeout: DefaultInitialTimeout,
		Timeout:        DefaultTimeout,
		Retries:        DefaultRetries,
		LineLength:     DefaultLineLength,
		MTU:            DefaultMTU,
		Logger:         zap.NewNop(),
	}
}

// Option adjusts the session configuration.
type Option func(*Config)

// WithBaudRate sets the baud rate Open passes to the serial port.
func WithBaudRate(baud int) Option {
	return func(c *Config) { c.BaudRate = baud }
}

// WithInitialTimeout sets the response timeout for the first exchange
// of a session and for upload requests at offset zero.
func WithInitialTimeout(d time.Duration) Option {
	return func(c *Config) { c.InitialTimeout = d }
}

// WithTimeout sets the per-attempt response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetries sets how many times a failed request is resent.
func WithRetries(n int) Option {
	return func(c *Config) { c.Retries = n }
}

// WithLineLength sets the maximum length of one console frame line.
func WithLineLength(n int) Option {
	return func(c *Config) { c.LineLength = n }
}

// WithMTU sets the maximum encoded request size.
func WithMTU(n int) Option {
	return func(c *Config) { c.MTU = n }
}

// WithChunkSize caps the image bytes carried per upload request,
// overriding the MTU-derived default.
func WithChunkSize(n int) Option {
	return func(c *Config) { c.ChunkSize = n }
}

// WithLogger sets the logger for session diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) { c.Logger = log }
}

// normalize fills in anything an option zeroed out.
func (c *Config) normalize() {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.InitialTimeout <= 0 {
		c.InitialTimeout = DefaultInitialTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.LineLength < console.MinLineLength {
		c.LineLength = DefaultLineLength
	}
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
