package serialmux

import "bytes"

// SiKTerminator ends every packet sent over the SiK telemetry radio.
const SiKTerminator = 0xFF

// Framings understood by PortOptions.
const (
	FramingLines = "lines"
	FramingSiK   = "sik"
)

// ScanSiKPackets is a bufio.SplitFunc yielding 0xFF terminated packets with
// the terminator kept. Bytes after the last terminator at EOF are dropped:
// the radio never flushes half a packet, so a tail is a truncated capture.
func ScanSiKPackets(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, SiKTerminator); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
