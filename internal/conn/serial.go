package conn

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// readTimeout bounds a single poll of the serial line. Short enough that
// the session reacts promptly to termination, long enough not to busy-loop.
const readTimeout = 10 * time.Millisecond

const readBufferSize = 512

// Options holds the line parameters for opening a serial device. The zero
// value is not usable; use DefaultOptions as a starting point.
type Options struct {
	BaudRate int
	DataBits int
	Parity   string // "N", "O" or "E"
	StopBits int    // 1 or 2
}

func DefaultOptions() Options {
	return Options{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
	}
}

// Serial adapts a serial port to the Channel interface.
type Serial struct {
	port serial.Port
	buf  []byte
}

// OpenSerial opens and configures the serial device at the given path.
func OpenSerial(device string, opts Options) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.Parity {
	case "N", "n":
		mode.Parity = serial.NoParity
	case "O", "o":
		mode.Parity = serial.OddParity
	case "E", "e":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unknown parity %q", opts.Parity)
	}

	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unknown stop bits %d", opts.StopBits)
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", device, err)
	}
	return &Serial{port: port, buf: make([]byte, readBufferSize)}, nil
}

// Read returns the bytes available on the line, or an empty slice if the
// poll timed out with nothing to deliver.
func (s *Serial) Read() ([]byte, error) {
	n, err := s.port.Read(s.buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out, nil
}

// Write writes the whole payload to the line.
func (s *Serial) Write(b []byte) error {
	for len(b) > 0 {
		n, err := s.port.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}

// List returns the serial devices present on the system.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
