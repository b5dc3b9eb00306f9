package fabric

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Serial line defaults.
const (
	defaultBaudRate          = 115200
	defaultSerialReadTimeout = 100 * time.Millisecond
)

// SerialConfig holds serial line settings.
type SerialConfig struct {
	// BaudRate of the line. Default: 115200.
	BaudRate int

	// ReadTimeout bounds a single one-byte read so the framing loop can
	// notice a closed connection. Default: 100ms.
	ReadTimeout time.Duration

	// LineMode selects "\n" as the delimiter when Options.Delimiter is
	// empty (NMEA GPS receivers and similar line-oriented hardware).
	LineMode bool
}

// OpenSerial opens a serial port and wraps it in framing.
//
// The port is opened 8N1 at cfg.BaudRate and read one byte at a time.
//
// Parameters:
//   - path: OS port path (e.g. "/dev/ttyUSB0")
//   - cfg: Line settings
//   - opts: Framing options; Name defaults to path
//
// Returns:
//   - *Conn: Open, suspect link
//   - error: ErrOpenFailed wrapping the driver error
func OpenSerial(path string, cfg SerialConfig, opts Options) (*Conn, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultSerialReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrOpenFailed, path, err)
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = SerialChunkSize
	}
	if len(opts.Delimiter) == 0 && cfg.LineMode {
		opts.Delimiter = []byte(LineDelimiter)
	}
	if opts.Name == "" {
		opts.Name = path
	}
	return NewConn(port, opts), nil
}

// ListSerialPorts returns the serial port paths the OS currently reports.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
