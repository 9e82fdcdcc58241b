package main

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/amsl/laserloc/internal/config"
	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/serialmux"
)

// sourceOptions names the scan input. Exactly one of LogPath, SerialPort,
// UDPAddr and PCAPPath must be set.
type sourceOptions struct {
	LogPath    string
	SerialPort string
	UDPAddr    string
	PCAPPath   string
	PCAPPort   int
	Serial     serialmux.PortOptions
}

var (
	errNoSource       = errors.New("no scan source: use one of -log, -serial, -udp or -pcap")
	errTooManySources = errors.New("only one of -log, -serial, -udp and -pcap may be given")
)

func (o sourceOptions) count() int {
	n := 0
	for _, s := range []string{o.LogPath, o.SerialPort, o.UDPAddr, o.PCAPPath} {
		if s != "" {
			n++
		}
	}
	return n
}

// scanSource is the Adapter feeding the pipeline plus whatever it owns.
type scanSource struct {
	*scan.Adapter

	serial    serialmux.SerialMuxInterface
	closers   []io.Closer
	closeOnce sync.Once
}

// Serial returns the serial link, or a disabled stand-in for other inputs.
func (s *scanSource) Serial() serialmux.SerialMuxInterface {
	return s.serial
}

// Close releases the adapter and the transport under it. It is safe to call
// more than once.
func (s *scanSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Adapter.Close()
		for _, c := range s.closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// openSource builds the scan Source selected by opts. A serial link is
// monitored in a goroutine tracked by wg until ctx is done or the source is
// closed.
func openSource(ctx context.Context, fsys fsutil.FileSystem, cfg *config.LocaliserConfig, opts sourceOptions, wg *sync.WaitGroup) (*scanSource, error) {
	switch opts.count() {
	case 0:
		return nil, errNoSource
	case 1:
	default:
		return nil, errTooManySources
	}

	acfg, err := cfg.GetAdapterConfig()
	if err != nil {
		return nil, err
	}
	tag := cfg.GetScanTag()
	disabled := serialmux.NewDisabledSerialMux()
	src := &scanSource{serial: disabled}

	switch {
	case opts.LogPath != "":
		a, err := scan.OpenLog(fsys, opts.LogPath, scan.LogDecoder{Tag: tag}, acfg)
		if err != nil {
			return nil, err
		}
		src.Adapter = a
		disabled.Input = "log " + opts.LogPath
		log.Printf("replaying scan log %s", opts.LogPath)

	case opts.PCAPPath != "":
		a, err := scan.OpenPCAP(fsys, opts.PCAPPath, opts.PCAPPort, scan.DatagramDecoder{Tag: tag}, acfg)
		if err != nil {
			return nil, err
		}
		src.Adapter = a
		disabled.Input = "pcap " + opts.PCAPPath
		log.Printf("replaying pcap %s (udp port %d)", opts.PCAPPath, opts.PCAPPort)

	case opts.UDPAddr != "":
		r, err := scan.ListenUDP(opts.UDPAddr)
		if err != nil {
			return nil, err
		}
		src.Adapter = scan.NewAdapter(r, scan.DatagramDecoder{Tag: tag}, acfg)
		src.closers = append(src.closers, r)
		disabled.Input = "udp " + opts.UDPAddr

	case opts.SerialPort != "":
		popts, err := opts.Serial.Normalize()
		if err != nil {
			return nil, err
		}
		mux, err := serialmux.NewRealSerialMux(opts.SerialPort, popts)
		if err != nil {
			return nil, err
		}
		src.Adapter = serialAdapter(ctx, mux, opts.SerialPort, popts.Framing, tag, acfg, wg)
		src.serial = mux
		src.closers = append(src.closers, mux)
		log.Printf("reading scans from %s (%d baud, %s framing)", opts.SerialPort, popts.BaudRate, popts.Framing)
	}
	return src, nil
}

// serialAdapter subscribes to mux, starts its monitor and decodes frames
// according to framing: SiK packets, or log-format text lines.
func serialAdapter(ctx context.Context, mux serialmux.SerialMuxInterface, name, framing, tag string, acfg scan.AdapterConfig, wg *sync.WaitGroup) *scan.Adapter {
	_, frames := mux.Subscribe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	var dec scan.Decoder = scan.SiKDecoder{Source: name}
	if framing == serialmux.FramingLines {
		dec = scan.LogDecoder{Tag: tag}
	}
	return scan.NewAdapter(scan.NewChannelReader(frames), dec, acfg)
}
