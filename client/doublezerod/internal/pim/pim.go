package pim

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	PIMMessageType       = gopacket.RegisterLayerType(1666, gopacket.LayerTypeMetadata{Name: "PIM", Decoder: gopacket.DecodeFunc(decodePim)})
	HelloMessageType     = gopacket.RegisterLayerType(1667, gopacket.LayerTypeMetadata{Name: "PIMHello", Decoder: gopacket.DecodeFunc(decodePimHelloMessage)})
	JoinPruneMessageType = gopacket.RegisterLayerType(1668, gopacket.LayerTypeMetadata{Name: "PIMJoinPrune", Decoder: gopacket.DecodeFunc(decodePimJoinPruneMessage)})
)

func (p *PIMMessage) LayerType() gopacket.LayerType       { return PIMMessageType }
func (h *HelloMessage) LayerType() gopacket.LayerType     { return HelloMessageType }
func (j *JoinPruneMessage) LayerType() gopacket.LayerType { return JoinPruneMessageType }

// Message Type                          Destination
// ---------------------------------------------------------------------
// 0 = Hello                             Multicast to ALL-PIM-ROUTERS
// 1 = Register                          Unicast to RP
// 2 = Register-Stop                     Unicast to source of Register
// 										 packet
// 3 = Join/Prune                        Multicast to ALL-PIM-ROUTERS
// 4 = Bootstrap                         Multicast to ALL-PIM-ROUTERS
// 5 = Assert                            Multicast to ALL-PIM-ROUTERS
// 6 = Graft (used in PIM-DM only)       Unicast to RPF'(S)
// 7 = Graft-Ack (used in PIM-DM only)   Unicast to source of Graft
// 										 packet
// 8 = Candidate-RP-Advertisement        Unicast to Domain's BSR

func decodePim(data []byte, p gopacket.PacketBuilder) error {
	if len(data) < 4 {
		return errors.New("PIM header is too short")
	}
	msg := &PIMMessage{}
	msg.Header.Version = data[0] >> 4
	msg.Header.Type = MessageType(data[0] & 0x0F)
	msg.Header.Reserved = data[1]
	msg.Header.Checksum = binary.BigEndian.Uint16(data[2:4])
	msg.Contents = data[0:4]
	msg.Payload = data[4:]
	p.AddLayer(msg)

	switch msg.Header.Type {
	case Hello:
		return p.NextDecoder(gopacket.DecodeFunc(decodePimHelloMessage))
	case JoinPrune:
		return p.NextDecoder(gopacket.DecodeFunc(decodePimJoinPruneMessage))
	case Assert:
		return p.NextDecoder(gopacket.DecodeFunc(decodePimAssertMessage))
	case RegisterStop:
		return p.NextDecoder(gopacket.DecodeFunc(decodePimRegisterStopMessage))
	default:
		slog.Debug("unsupported PIM message type", "type", msg.Header.Type)
		return nil
	}
}

func decodeEncodedUnicastAddr(data []byte) (net.IP, int, error) {
	if len(data) < 2 {
		return nil, 0, errors.New("encoded unicast address is too short")
	}
	switch data[0] {
	case 1: // IPv4
		if len(data) < 6 {
			return nil, 0, errors.New("encoded IPv4 unicast address is too short")
		}
		return net.IP(data[2:6]), 6, nil
	case 2: // IPv6
		if len(data) < 18 {
			return nil, 0, errors.New("encoded IPv6 unicast address is too short")
		}
		return net.IP(data[2:18]), 18, nil
	default:
		return nil, 0, errors.New("unsupported address family")
	}
}

func decodeEncodedGroupAddr(data []byte) (addr net.IP, maskLen uint8, n int, err error) {
	if len(data) < 4 {
		return nil, 0, 0, errors.New("encoded group address is too short")
	}
	switch data[0] {
	case 1:
		if len(data) < 8 {
			return nil, 0, 0, errors.New("encoded IPv4 group address is too short")
		}
		return net.IP(data[4:8]), data[3], 8, nil
	case 2:
		if len(data) < 20 {
			return nil, 0, 0, errors.New("encoded IPv6 group address is too short")
		}
		return net.IP(data[4:20]), data[3], 20, nil
	default:
		return nil, 0, 0, errors.New("unsupported address family")
	}
}

func decodeEncodedSourceAddr(data []byte) (sa SourceAddress, n int, err error) {
	if len(data) < 4 {
		return SourceAddress{}, 0, errors.New("encoded source address is too short")
	}
	sa.AddressFamily = data[0]
	sa.EncodingType = data[1]
	sa.Flags = data[2]
	sa.MaskLength = data[3]
	switch sa.AddressFamily {
	case 1:
		if len(data) < 8 {
			return SourceAddress{}, 0, errors.New("encoded IPv4 source address is too short")
		}
		sa.Address = net.IP(data[4:8])
		return sa, 8, nil
	case 2:
		if len(data) < 20 {
			return SourceAddress{}, 0, errors.New("encoded IPv6 source address is too short")
		}
		sa.Address = net.IP(data[4:20])
		return sa, 20, nil
	default:
		return SourceAddress{}, 0, errors.New("unsupported address family")
	}
}

func decodePimHelloMessage(data []byte, p gopacket.PacketBuilder) error {
	hello := &HelloMessage{BaseLayer: layers.BaseLayer{Contents: data}}
	p.AddLayer(hello)

	for len(data) >= 4 {
		optType := OptionType(binary.BigEndian.Uint16(data[0:2]))
		optLen := int(binary.BigEndian.Uint16(data[2:4]))
		if len(data[4:]) < optLen {
			return errors.New("PIM Hello option value is too short")
		}
		value := data[4 : 4+optLen]

		switch optType {
		case OptionTypeHoldtime:
			if len(value) < 2 {
				return errors.New("Hello holdtime option is too short")
			}
			hello.Holdtime = binary.BigEndian.Uint16(value)
		case OptionTypeLANPruneDelay:
			if len(value) < 4 {
				return errors.New("Hello LAN prune delay option is too short")
			}
			hello.PropDelay = binary.BigEndian.Uint16(value[0:2])
			hello.OverrideeInterval = binary.BigEndian.Uint16(value[2:4])
		case OptionTypeDRPriority:
			if len(value) < 4 {
				return errors.New("Hello DR priority option is too short")
			}
			hello.DRPriority = binary.BigEndian.Uint32(value)
		case OptionTypeGenerationID:
			if len(value) < 4 {
				return errors.New("Hello generation ID option is too short")
			}
			hello.GenerationID = binary.BigEndian.Uint32(value)
		case OptionTypeStateRefresh:
			if len(value) < 2 {
				return errors.New("Hello state refresh option is too short")
			}
			hello.StateRefreshInterval = value[1]
		case OptionTypeAddressList:
			hello.SecondaryAddress = make([]net.IP, 0)
			rest := value
			for len(rest) > 0 {
				addr, n, err := decodeEncodedUnicastAddr(rest)
				if err != nil {
					return err
				}
				hello.SecondaryAddress = append(hello.SecondaryAddress, addr)
				rest = rest[n:]
			}
		}
		data = data[4+optLen:]
	}

	return nil
}

func decodePimJoinPruneMessage(data []byte, p gopacket.PacketBuilder) error {
	jp := &JoinPruneMessage{BaseLayer: layers.BaseLayer{Contents: data}}

	addr, n, err := decodeEncodedUnicastAddr(data)
	if err != nil {
		return err
	}
	jp.UpstreamNeighborAddress = addr
	data = data[n:]

	if len(data) < 4 {
		return errors.New("PIM Join/Prune message is too short")
	}
	jp.Reserved = data[0]
	jp.NumGroups = data[1]
	jp.Holdtime = binary.BigEndian.Uint16(data[2:4])
	data = data[4:]

	jp.Groups = make([]Group, 0, jp.NumGroups)
	for i := uint8(0); i < jp.NumGroups; i++ {
		var g Group
		g.GroupID = i

		groupAddr, maskLen, n, err := decodeEncodedGroupAddr(data)
		if err != nil {
			return err
		}
		g.AddressFamily = data[0]
		g.MulticastGroupAddress = groupAddr
		g.MaskLength = maskLen
		data = data[n:]

		if len(data) < 4 {
			return errors.New("PIM Join/Prune group is too short")
		}
		g.NumJoinedSources = binary.BigEndian.Uint16(data[0:2])
		g.NumPrunedSources = binary.BigEndian.Uint16(data[2:4])
		data = data[4:]

		g.Joins = make([]SourceAddress, 0, g.NumJoinedSources)
		for j := uint16(0); j < g.NumJoinedSources; j++ {
			sa, n, err := decodeEncodedSourceAddr(data)
			if err != nil {
				return err
			}
			g.Joins = append(g.Joins, sa)
			data = data[n:]
		}

		g.Prunes = make([]SourceAddress, 0, g.NumPrunedSources)
		for j := uint16(0); j < g.NumPrunedSources; j++ {
			sa, n, err := decodeEncodedSourceAddr(data)
			if err != nil {
				return err
			}
			g.Prunes = append(g.Prunes, sa)
			data = data[n:]
		}

		jp.Groups = append(jp.Groups, g)
	}

	p.AddLayer(jp)
	return nil
}

/*
PIM Common Header

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|PIM Ver| Type  |   Reserved    |           Checksum            |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type MessageType uint8

const (
	Hello                   = 0x00
	Register                = 0x01
	RegisterStop            = 0x02
	JoinPrune               = 0x03
	Bootstrap               = 0x04
	Assert                  = 0x05
	Graft                   = 0x06
	GraftAck                = 0x07
	CadidateRPAdvertisement = 0x08
)

type PIMHeader struct {
	Version  uint8
	Type     MessageType
	Reserved uint8
	Checksum uint16
}

type PIMMessage struct {
	layers.BaseLayer
	Header PIMHeader
}

func (p *PIMMessage) SerializeTo(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	b, err := buf.PrependBytes(4)
	if err != nil {
		return err
	}
	b[0] = p.Header.Version<<4 | byte(p.Header.Type)
	b[1] = p.Header.Reserved
	binary.BigEndian.PutUint16(b[2:4], p.Header.Checksum)
	return nil
}

/* PIM Hello Message
    0                   1                   2                   3
    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |          OptionType           |         OptionLength          |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |                          OptionValue                          |
   |                              ...                              |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/

type HelloMessage struct {
	layers.BaseLayer
	Holdtime             uint16
	PropDelay            uint16
	OverrideeInterval    uint16
	DRPriority           uint32
	GenerationID         uint32
	SecondaryAddress     []net.IP
	StateRefreshInterval uint8
}

// SerializeTo writes Holdtime, Generation ID and DR Priority unconditionally
// (every Hello this router sends carries them), plus LAN Prune Delay, State
// Refresh and Address List only when set.
func (h *HelloMessage) SerializeTo(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if len(h.SecondaryAddress) > 0 {
		for i := len(h.SecondaryAddress) - 1; i >= 0; i-- {
			addr := h.SecondaryAddress[i].To4()
			b, err := buf.PrependBytes(2 + len(addr))
			if err != nil {
				return err
			}
			b[0] = 1
			b[1] = 0
			copy(b[2:], addr)
		}
		b, err := buf.PrependBytes(4)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(b[0:2], uint16(OptionTypeAddressList))
		binary.BigEndian.PutUint16(b[2:4], 0)
	}
	if h.StateRefreshInterval != 0 {
		b, err := buf.PrependBytes(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(b[0:2], uint16(OptionTypeStateRefresh))
		binary.BigEndian.PutUint16(b[2:4], 4)
		b[4] = 1
		b[5] = h.StateRefreshInterval
		b[6], b[7] = 0, 0
	}
	if h.DRPriority != 0 {
		b, err := buf.PrependBytes(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(b[0:2], uint16(OptionTypeDRPriority))
		binary.BigEndian.PutUint16(b[2:4], 4)
		binary.BigEndian.PutUint32(b[4:8], h.DRPriority)
	}
	if h.GenerationID != 0 {
		b, err := buf.PrependBytes(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(b[0:2], uint16(OptionTypeGenerationID))
		binary.BigEndian.PutUint16(b[2:4], 4)
		binary.BigEndian.PutUint32(b[4:8], h.GenerationID)
	}
	if h.PropDelay != 0 || h.OverrideeInterval != 0 {
		b, err := buf.PrependBytes(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(b[0:2], uint16(OptionTypeLANPruneDelay))
		binary.BigEndian.PutUint16(b[2:4], 4)
		binary.BigEndian.PutUint16(b[4:6], h.PropDelay)
		binary.BigEndian.PutUint16(b[6:8], h.OverrideeInterval)
	}
	b, err := buf.PrependBytes(6)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b[0:2], uint16(OptionTypeHoldtime))
	binary.BigEndian.PutUint16(b[2:4], 2)
	binary.BigEndian.PutUint16(b[4:6], h.Holdtime)
	return nil
}

type OptionType uint16

const (
	OptionTypeHoldtime      OptionType = 0x0001
	OptionTypeLANPruneDelay OptionType = 0x0002
	OptionTypeDRPriority    OptionType = 0x0013
	OptionTypeGenerationID  OptionType = 0x0014
	OptionTypeStateRefresh  OptionType = 0x0015
	OptionTypeAddressList   OptionType = 0x0018
)

/*
PIM Join/Prune Message

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|        Upstream Neighbor Address (Encoded-Unicast format)     |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|  Reserved     | Num groups    |          Holdtime             |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|         Multicast Group Address 1 (Encoded-Group format)      |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Number of Joined Sources    |   Number of Pruned Sources    |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|        Joined Source Address 1 (Encoded-Source format)        |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                             .                                 |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|        Pruned Source Address 1 (Encoded-Source format)        |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                             .                                 |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/

type JoinPruneMessage struct {
	layers.BaseLayer
	UpstreamNeighborAddress net.IP
	Reserved                uint8
	NumGroups               uint8
	Holdtime                uint16
	Groups                  []Group
}

func (j *JoinPruneMessage) SerializeTo(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	for i := len(j.Groups) - 1; i >= 0; i-- {
		g := j.Groups[i]
		for k := len(g.Prunes) - 1; k >= 0; k-- {
			if err := serializeSourceAddr(buf, g.Prunes[k]); err != nil {
				return err
			}
		}
		for k := len(g.Joins) - 1; k >= 0; k-- {
			if err := serializeSourceAddr(buf, g.Joins[k]); err != nil {
				return err
			}
		}
		b, err := buf.PrependBytes(4)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(b[0:2], uint16(len(g.Joins)))
		binary.BigEndian.PutUint16(b[2:4], uint16(len(g.Prunes)))

		addr := g.MulticastGroupAddress.To4()
		b, err = buf.PrependBytes(4 + len(addr))
		if err != nil {
			return err
		}
		b[0] = g.AddressFamily
		b[1] = 0
		b[2] = 0
		b[3] = g.MaskLength
		copy(b[4:], addr)
	}

	b, err := buf.PrependBytes(4)
	if err != nil {
		return err
	}
	b[0] = j.Reserved
	b[1] = j.NumGroups
	binary.BigEndian.PutUint16(b[2:4], j.Holdtime)

	addr := j.UpstreamNeighborAddress.To4()
	b, err = buf.PrependBytes(2 + len(addr))
	if err != nil {
		return err
	}
	b[0] = 1
	b[1] = 0
	copy(b[2:], addr)
	return nil
}

func serializeSourceAddr(buf gopacket.SerializeBuffer, sa SourceAddress) error {
	addr := sa.Address.To4()
	b, err := buf.PrependBytes(4 + len(addr))
	if err != nil {
		return err
	}
	b[0] = sa.AddressFamily
	b[1] = sa.EncodingType
	b[2] = sa.Flags
	b[3] = sa.MaskLength
	copy(b[4:], addr)
	return nil
}

// Group is one (Multicast-Group-Address, Joined-Sources, Pruned-Sources)
// entry of a Join/Prune message. GroupID is a local index, not carried on
// the wire.
type Group struct {
	GroupID               uint8
	AddressFamily         uint8
	NumJoinedSources      uint16
	NumPrunedSources      uint16
	MaskLength            uint8
	MulticastGroupAddress net.IP
	Joins                 []SourceAddress
	Prunes                []SourceAddress
}

// SourceAddress flag bits (RFC 4601 §4.9.1).
const (
	RPTreeBit   uint8 = 0x01
	WildCardBit uint8 = 0x02
	SparseBit   uint8 = 0x04
)

type SourceAddress struct {
	AddressFamily uint8
	Flags         uint8
	MaskLength    uint8
	EncodingType  uint8
	Address       net.IP
}

// RpAddress is the Rendezvous Point placeholder source address used in
// (*,G) joins towards the RP.
var RpAddress = net.IP([]byte{11, 0, 0, 0})

// Checksum computes the PIM message checksum (RFC 4601 §4.9): the ones'
// complement of the ones'-complement sum of the message's 16-bit words.
func Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
