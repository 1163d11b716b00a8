package capture

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/pktflow/internal/runtime/boundary"
	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/pdu"
)

func udpPacket(t *testing.T, payload string) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestCaptureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.pcap")
	ctx := context.Background()
	stamp := time.Unix(1700000000, 0)

	packets := [][]byte{udpPacket(t, "one"), udpPacket(t, "two!")}

	sink, err := NewSink(path, Options{Now: func() time.Time { return stamp }})
	require.NoError(t, err)
	require.NoError(t, boundary.Run(ctx, sink, func(ctx context.Context) error {
		for _, data := range packets {
			if err := sink.Deliver(ctx, pdu.Bytes{Data: data}); err != nil {
				return err
			}
		}
		return nil
	}))

	src, err := NewSource(path, Options{TimeKey: "rx_time"})
	require.NoError(t, err)
	var got []pdu.Bytes
	require.NoError(t, boundary.Run(ctx, src, func(ctx context.Context) error {
		for {
			p, ok := src.Poll(ctx)
			if !ok {
				return nil
			}
			got = append(got, p)
		}
	}))

	require.Len(t, got, 2)
	assert.True(t, src.Exhausted())
	for i, p := range got {
		assert.Equal(t, packets[i], p.Data)
		require.Len(t, p.Tags, 1)
		v, ok := p.Tags[0].Attrs.Get("rx_time")
		require.True(t, ok)
		ns, _ := v.Int()
		assert.Equal(t, stamp.UnixNano(), ns)
	}
}

func TestCaptureSkipsTruncatedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.pcap")
	ctx := context.Background()

	sink, err := NewSink(path, Options{SnapLen: 4})
	require.NoError(t, err)
	require.NoError(t, boundary.Run(ctx, sink, func(ctx context.Context) error {
		if err := sink.Deliver(ctx, pdu.Bytes{Data: []byte{1, 2, 3, 4, 5, 6}}); err != nil {
			return err
		}
		return sink.Deliver(ctx, pdu.Bytes{Data: []byte{7, 8}})
	}))

	src, err := NewSource(path, Options{})
	require.NoError(t, err)
	require.NoError(t, src.Start(ctx))
	defer src.Stop()

	p, ok := src.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte{7, 8}, p.Data)
	assert.Empty(t, p.Tags)

	_, ok = src.Poll(ctx)
	assert.False(t, ok)
}

func TestCaptureRequiresStart(t *testing.T) {
	sink, err := NewSink(filepath.Join(t.TempDir(), "x.pcap"), Options{})
	require.NoError(t, err)
	err = sink.Deliver(context.Background(), pdu.Bytes{Data: []byte{1}})
	assert.ErrorIs(t, err, errspkg.ErrNotStarted)

	_, err = NewSink("", Options{})
	assert.Error(t, err)
	_, err = NewSource("", Options{})
	assert.Error(t, err)

	src, err := NewSource(filepath.Join(t.TempDir(), "missing.pcap"), Options{})
	require.NoError(t, err)
	assert.Error(t, src.Start(context.Background()))
}

func TestCaptureRejectsEmptyPdu(t *testing.T) {
	sink, err := NewSink(filepath.Join(t.TempDir(), "rx.pcap"), Options{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, boundary.Run(ctx, sink, func(ctx context.Context) error {
		assert.ErrorIs(t, sink.Deliver(ctx, pdu.Bytes{}), errspkg.ErrEmptyPdu)
		return sink.Deliver(ctx, pdu.Bytes{Data: udpPacket(t, "ok")})
	}))
}

func TestDescribe(t *testing.T) {
	fields := Describe(udpPacket(t, "hello"))

	assert.Equal(t, 4, fields["ip_version"])
	assert.Equal(t, "10.0.0.1", fields["src"])
	assert.Equal(t, "10.0.0.2", fields["dst"])
	assert.Equal(t, "UDP", fields["protocol"])
	assert.Equal(t, uint16(5000), fields["src_port"])
	assert.Equal(t, uint16(53), fields["dst_port"])
	assert.Equal(t, 33, fields["length"])

	assert.Equal(t, 0, Describe(nil)["length"])
	assert.Equal(t, 0, Describe([]byte{0x00, 0x01})["ip_version"])
}

func TestCaptureSourceFeedsForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fwd.pcap")
	ctx := context.Background()

	sink, err := NewSink(path, Options{})
	require.NoError(t, err)
	require.NoError(t, boundary.Run(ctx, sink, func(ctx context.Context) error {
		return sink.Deliver(ctx, pdu.Bytes{Data: udpPacket(t, "fwd")})
	}))

	src, err := NewSource(path, Options{TimeKey: "rx_time"})
	require.NoError(t, err)
	var collector boundary.Collector[byte]
	var stats boundary.ForwardStats
	require.NoError(t, boundary.Run(ctx, src, func(ctx context.Context) error {
		stats = boundary.Forward(ctx, src, []boundary.PacketSink[byte]{&collector}, boundary.ForwardOptions{Name: "replay"})
		return nil
	}))

	assert.Equal(t, uint64(1), stats.Delivered)
	require.Len(t, collector.Pdus(), 1)
}
