package pim

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var AssertMessageType = gopacket.RegisterLayerType(1669, gopacket.LayerTypeMetadata{Name: "PIMAssert", Decoder: gopacket.DecodeFunc(decodePimAssertMessage)})

func (a *AssertMessage) LayerType() gopacket.LayerType { return AssertMessageType }

/*
PIM Assert Message (RFC 4601 §4.9.5)

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|         Multicast Group Address (Encoded-Group format)        |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                Source Address (Encoded-Unicast format)        |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|R|                  Metric Preference                         |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                           Metric                             |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type AssertMessage struct {
	layers.BaseLayer

	GroupAddressFamily    uint8
	GroupMaskLength       uint8
	MulticastGroupAddress net.IP

	SourceAddress net.IP

	RptBit           bool
	MetricPreference uint32
	Metric           uint32
}

// AssertMetric converts the wire fields into the package's AssertMetric,
// the type mre_assert.go's AssertProcess operates on.
func (a *AssertMessage) AssertMetric() AssertMetric {
	return AssertMetric{
		Rpt:         a.RptBit,
		Preference:  a.MetricPreference,
		RouteMetric: a.Metric,
		Origin:      AddrFromNetip(netipFromIP(a.SourceAddress)),
	}
}

// newAssertMessage builds an outbound Assert for (source, group) carrying
// metric, as sent from A1/A3/A6 in mre_assert.go's AssertProcess.
func newAssertMessage(source, group net.IP, metric AssertMetric) *AssertMessage {
	return &AssertMessage{
		GroupAddressFamily:    1,
		GroupMaskLength:       32,
		MulticastGroupAddress: group,
		SourceAddress:         source,
		RptBit:                metric.Rpt,
		MetricPreference:      metric.Preference,
		Metric:                metric.RouteMetric,
	}
}

// newAssertCancelMessage builds the AssertCancel message A5 sends: an
// infinite metric so every other router on the LAN immediately wins.
func newAssertCancelMessage(source, group net.IP) *AssertMessage {
	return newAssertMessage(source, group, InfiniteAssertMetric)
}

func (a *AssertMessage) SerializeTo(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	b, err := buf.PrependBytes(8)
	if err != nil {
		return err
	}
	pref := a.MetricPreference &^ 0x80000000
	if a.RptBit {
		pref |= 0x80000000
	}
	binary.BigEndian.PutUint32(b[0:4], pref)
	binary.BigEndian.PutUint32(b[4:8], a.Metric)

	srcAddr := a.SourceAddress.To4()
	sb, err := buf.PrependBytes(2 + len(srcAddr))
	if err != nil {
		return err
	}
	sb[0] = 1
	sb[1] = 0
	copy(sb[2:], srcAddr)

	groupAddr := a.MulticastGroupAddress.To4()
	gb, err := buf.PrependBytes(4 + len(groupAddr))
	if err != nil {
		return err
	}
	gb[0] = a.GroupAddressFamily
	gb[1] = 0
	gb[2] = 0
	gb[3] = a.GroupMaskLength
	copy(gb[4:], groupAddr)
	return nil
}

func decodePimAssertMessage(data []byte, p gopacket.PacketBuilder) error {
	assert := &AssertMessage{BaseLayer: layers.BaseLayer{Contents: data}}

	groupAddr, maskLen, n, err := decodeEncodedGroupAddr(data)
	if err != nil {
		return err
	}
	assert.GroupAddressFamily = data[0]
	assert.MulticastGroupAddress = groupAddr
	assert.GroupMaskLength = maskLen
	data = data[n:]

	srcAddr, n, err := decodeEncodedUnicastAddr(data)
	if err != nil {
		return err
	}
	assert.SourceAddress = srcAddr
	data = data[n:]

	if len(data) < 8 {
		return errors.New("PIM Assert message is too short")
	}
	pref := binary.BigEndian.Uint32(data[0:4])
	assert.RptBit = pref&0x80000000 != 0
	assert.MetricPreference = pref &^ 0x80000000
	assert.Metric = binary.BigEndian.Uint32(data[4:8])

	p.AddLayer(assert)
	return nil
}

// netipFromIP converts a net.IP (as produced by the Encoded-Unicast decoder)
// into a netip.Addr, unmapping any IPv4-in-IPv6 representation.
func netipFromIP(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
