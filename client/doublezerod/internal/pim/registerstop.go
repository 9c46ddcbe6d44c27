package pim

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var RegisterStopMessageType = gopacket.RegisterLayerType(1670, gopacket.LayerTypeMetadata{Name: "PIMRegisterStop", Decoder: gopacket.DecodeFunc(decodePimRegisterStopMessage)})

func (r *RegisterStopMessage) LayerType() gopacket.LayerType { return RegisterStopMessageType }

/*
PIM Register-Stop Message (RFC 4601 §4.9.4)

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|         Multicast Group Address (Encoded-Group format)        |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                Source Address (Encoded-Unicast format)        |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

A zero SourceAddress stops Register for every source within the group.
*/
type RegisterStopMessage struct {
	layers.BaseLayer

	GroupAddressFamily    uint8
	GroupMaskLength       uint8
	MulticastGroupAddress net.IP

	SourceAddress net.IP
}

// SourceGroup converts the wire fields into the package's SourceGroup key,
// for matching against MrtTables.FindSG.
func (r *RegisterStopMessage) SourceGroup() SourceGroup {
	return SourceGroup{
		Source: AddrFromNetip(netipFromIP(r.SourceAddress)),
		Group:  AddrFromNetip(netipFromIP(r.MulticastGroupAddress)),
	}
}

// CancelsAllSources reports whether SourceAddress is the zero wildcard,
// meaning every (S,G) within the group should receive ReceiveRegisterStop.
func (r *RegisterStopMessage) CancelsAllSources() bool {
	return r.SourceAddress == nil || r.SourceAddress.IsUnspecified()
}

func newRegisterStopMessage(source, group net.IP) *RegisterStopMessage {
	return &RegisterStopMessage{
		GroupAddressFamily:    1,
		GroupMaskLength:       32,
		MulticastGroupAddress: group,
		SourceAddress:         source,
	}
}

func (r *RegisterStopMessage) SerializeTo(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	source := r.SourceAddress
	if source == nil {
		source = net.IPv4zero
	}
	srcAddr := source.To4()
	sb, err := buf.PrependBytes(2 + len(srcAddr))
	if err != nil {
		return err
	}
	sb[0] = 1
	sb[1] = 0
	copy(sb[2:], srcAddr)

	groupAddr := r.MulticastGroupAddress.To4()
	gb, err := buf.PrependBytes(4 + len(groupAddr))
	if err != nil {
		return err
	}
	gb[0] = r.GroupAddressFamily
	gb[1] = 0
	gb[2] = 0
	gb[3] = r.GroupMaskLength
	copy(gb[4:], groupAddr)
	return nil
}

func decodePimRegisterStopMessage(data []byte, p gopacket.PacketBuilder) error {
	rs := &RegisterStopMessage{BaseLayer: layers.BaseLayer{Contents: data}}

	groupAddr, maskLen, n, err := decodeEncodedGroupAddr(data)
	if err != nil {
		return err
	}
	rs.GroupAddressFamily = data[0]
	rs.MulticastGroupAddress = groupAddr
	rs.GroupMaskLength = maskLen
	data = data[n:]

	srcAddr, _, err := decodeEncodedUnicastAddr(data)
	if err != nil {
		return err
	}
	rs.SourceAddress = srcAddr

	p.AddLayer(rs)
	return nil
}
