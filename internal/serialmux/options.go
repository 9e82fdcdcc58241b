package serialmux

import (
	"bufio"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the SiK radio's air-side default.
const DefaultBaudRate = 57600

// PortOptions describes how to open and frame a serial link.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
	Framing  string `json:"framing"` // "lines" or "sik"
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	framing := strings.TrimSpace(strings.ToLower(opts.Framing))
	switch framing {
	case "", FramingSiK:
		framing = FramingSiK
	case FramingLines:
	default:
		return opts, fmt.Errorf("unsupported framing %q: expected %s or %s", opts.Framing, FramingLines, FramingSiK)
	}
	opts.Framing = framing

	return opts, nil
}

// SplitFunc returns the frame splitter for the normalised framing.
func (o PortOptions) SplitFunc() (bufio.SplitFunc, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	if opts.Framing == FramingLines {
		return nil, nil
	}
	return ScanSiKPackets, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}

	return mode, nil
}
