package scan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FrameReader yields raw records. ReadFrame returns io.EOF once the
// underlying stream is exhausted and ctx.Err() once ctx is done.
type FrameReader interface {
	ReadFrame(ctx context.Context) (Frame, error)
}

// maxLineSize bounds a single log line; a 720 ray scan is about 4 KiB.
const maxLineSize = 1 << 20

// LineReader reads newline terminated records.
type LineReader struct {
	sc *bufio.Scanner
}

// NewLineReader reads lines from r.
func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineReader{sc: sc}
}

func (l *LineReader) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			return Frame{}, fmt.Errorf("read line: %w", err)
		}
		return Frame{}, io.EOF
	}
	return Frame{Data: bytes.Clone(l.sc.Bytes()), Received: time.Now()}, nil
}

// PacketReader reads 0xFF terminated SiK packets. A trailing packet without a
// terminator is discarded.
type PacketReader struct {
	br *bufio.Reader
}

// NewPacketReader reads packets from r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{br: bufio.NewReader(r)}
}

func (p *PacketReader) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	pkt, err := p.br.ReadBytes(SiKTerminator)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read packet: %w", err)
	}
	return Frame{Data: pkt, Received: time.Now()}, nil
}

// ChannelReader adapts a string channel, such as a serial mux subscription,
// to a FrameReader. A closed channel ends the stream.
type ChannelReader struct {
	ch <-chan string
}

// NewChannelReader reads frames from ch.
func NewChannelReader(ch <-chan string) *ChannelReader {
	return &ChannelReader{ch: ch}
}

func (c *ChannelReader) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case s, ok := <-c.ch:
		if !ok {
			return Frame{}, io.EOF
		}
		return Frame{Data: []byte(s), Received: time.Now()}, nil
	}
}

// udpReadTimeout is how often a blocked UDP read wakes to check ctx.
const udpReadTimeout = 100 * time.Millisecond

// UDPReader reads one frame per datagram. It never returns io.EOF; the
// stream ends when ctx is cancelled or the connection is closed.
type UDPReader struct {
	conn net.PacketConn
	buf  []byte
}

// NewUDPReader reads datagrams from conn.
func NewUDPReader(conn net.PacketConn) *UDPReader {
	return &UDPReader{conn: conn, buf: make([]byte, 65535)}
}

// ListenUDP opens a UDP socket on address (for example ":5000").
func ListenUDP(address string) (*UDPReader, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP %s: %w", address, err)
	}
	log.Printf("UDP scan listener started on %s", conn.LocalAddr())
	return NewUDPReader(conn), nil
}

// LocalAddr is the bound socket address.
func (u *UDPReader) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Close closes the socket.
func (u *UDPReader) Close() error { return u.conn.Close() }

func (u *UDPReader) ReadFrame(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if err := u.conn.SetReadDeadline(time.Now().Add(udpReadTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := u.conn.ReadFrom(u.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("UDP read: %w", err)
		}
		if n == 0 {
			continue
		}
		return Frame{Data: bytes.Clone(u.buf[:n]), Received: time.Now()}, nil
	}
}

// PCAPReader replays UDP payloads addressed to one port from a pcap capture,
// stamping each frame with its capture time.
type PCAPReader struct {
	r       *pcapgo.Reader
	port    layers.UDPPort
	packets int
	matched int
}

// NewPCAPReader reads a classic pcap stream from r and keeps UDP datagrams
// whose destination port is port.
func NewPCAPReader(r io.Reader, port int) (*PCAPReader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP stream: %w", err)
	}
	log.Printf("PCAP filter set: udp dst port %d (link type %s)", port, pr.LinkType())
	return &PCAPReader{r: pr, port: layers.UDPPort(port)}, nil
}

func (p *PCAPReader) ReadFrame(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		data, ci, err := p.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("PCAP reading complete: %d packets, %d scan datagrams", p.packets, p.matched)
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("read PCAP packet %d: %w", p.packets+1, err)
		}
		p.packets++

		packet := gopacket.NewPacket(data, p.r.LinkType(), gopacket.Default)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || udp.DstPort != p.port || len(udp.Payload) == 0 {
			continue
		}
		p.matched++
		return Frame{Data: bytes.Clone(udp.Payload), Received: ci.Timestamp}, nil
	}
}
