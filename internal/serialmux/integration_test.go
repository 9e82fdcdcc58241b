package serialmux

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsl/laserloc/internal/localiser/scan"
)

// Frames read off the radio link decode into scans through the adapter.
func TestSiKLinkFeedsScanAdapter(t *testing.T) {
	t.Parallel()
	var stream []byte
	stream = append(stream, sikPacket("000000100", 10, 0, 30, 40)...)
	stream = append(stream, []byte{1, 2, 0xFF}...) // too short to be a scan
	stream = append(stream, sikPacket("000000200", 50, 60, 70, 80)...)

	mux := NewSerialMux(newFakePort(bytes.NewReader(stream)), ScanSiKPackets)
	_, ch := mux.Subscribe()
	require.NoError(t, mux.Monitor(context.Background()))
	require.NoError(t, mux.Close())

	adapter := scan.NewAdapter(scan.NewChannelReader(ch), scan.SiKDecoder{Source: "sik"}, scan.AdapterConfig{})
	ctx := context.Background()

	s, err := adapter.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "000000100", s.Stamp)
	assert.Len(t, s.Rays, 3, "the zero range is dropped")

	s, err = adapter.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "000000200", s.Stamp)
	assert.Len(t, s.Rays, 4)

	_, err = adapter.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, adapter.Stats().NotScans)
}
