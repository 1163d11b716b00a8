package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/drblury/pktflow/internal/runtime/logging"
)

var lazyDecode = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// Describe decodes the IP and transport headers of a raw packet into log
// fields. Undecodable packets only report their length.
func Describe(data []byte) logging.LogFields {
	fields := logging.LogFields{"length": len(data)}
	if len(data) == 0 {
		return fields
	}

	var first gopacket.LayerType
	switch data[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		fields["ip_version"] = int(data[0] >> 4)
		return fields
	}

	packet := gopacket.NewPacket(data, first, lazyDecode)
	if ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		fields["ip_version"] = 4
		fields["src"] = ip.SrcIP.String()
		fields["dst"] = ip.DstIP.String()
		fields["protocol"] = ip.Protocol.String()
		fields["ttl"] = ip.TTL
	} else if ip, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		fields["ip_version"] = 6
		fields["src"] = ip.SrcIP.String()
		fields["dst"] = ip.DstIP.String()
		fields["protocol"] = ip.NextHeader.String()
		fields["hop_limit"] = ip.HopLimit
	}
	if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		fields["src_port"] = uint16(udp.SrcPort)
		fields["dst_port"] = uint16(udp.DstPort)
	} else if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		fields["src_port"] = uint16(tcp.SrcPort)
		fields["dst_port"] = uint16(tcp.DstPort)
	}
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		fields["decode_error"] = errLayer.Error().Error()
	}
	return fields
}
