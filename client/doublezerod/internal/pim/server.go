package pim

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"golang.org/x/net/ipv4"
)

const (
	helloHoldtime         = 105 * time.Second
	joinPruneHoldtime     = 120 * time.Second
	pruneHoldtime         = 5 * time.Second
	helloGenerationID     = 3614426332
	helloDRPriority       = 1
	helloSendInterval     = 30 * time.Second
	joinPruneSendInterval = 60 * time.Second
)

type RawConner interface {
	WriteTo(h *ipv4.Header, b []byte, cm *ipv4.ControlMessage) error
	Close() error
	SetMulticastInterface(iface *net.Interface) error
	SetControlMessage(cm ipv4.ControlFlags, on bool) error
}

// PIMServer runs a single PIM-SM neighbor adjacency on one interface: it
// sends periodic Hellos and keeps the router's (*,G) joins towards
// RpAddress in sync with the locally subscribed group set.
type PIMServer struct {
	mu     sync.Mutex
	conn   RawConner
	intf   *net.Interface
	tunnel net.IP
	groups map[string]net.IP

	done chan struct{}
	wg   sync.WaitGroup
}

func NewPIMServer() *PIMServer {
	return &PIMServer{
		groups: make(map[string]net.IP),
		done:   make(chan struct{}),
	}
}

func (s *PIMServer) Start(conn RawConner, iface string, tunnelAddr net.IP, groups []net.IP) error {
	intf, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("failed to get interface: %v", err)
	}
	if err := conn.SetMulticastInterface(intf); err != nil {
		return fmt.Errorf("failed to set multicast interface: %v", err)
	}

	s.conn = conn
	s.intf = intf
	s.tunnel = tunnelAddr
	for _, g := range groups {
		s.groups[g.String()] = g
	}

	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *PIMServer) run() {
	defer s.wg.Done()
	defer s.conn.Close()

	s.sendHello()
	s.sendJoinPrune(s.currentGroups(), true)

	helloTicker := time.NewTicker(helloSendInterval)
	defer helloTicker.Stop()
	jpTicker := time.NewTicker(joinPruneSendInterval)
	defer jpTicker.Stop()

	for {
		select {
		case <-helloTicker.C:
			s.sendHello()
		case <-jpTicker.C:
			s.sendJoinPrune(s.currentGroups(), true)
		case <-s.done:
			s.sendJoinPruneWithHoldtime(s.currentGroups(), false, pruneHoldtime)
			return
		}
	}
}

func (s *PIMServer) currentGroups() []net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.IP, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out
}

// UpdateGroups reconciles the locally subscribed group set against groups,
// sending one Join for each newly-added group and one Prune for each
// removed group.
func (s *PIMServer) UpdateGroups(groups []net.IP) error {
	s.mu.Lock()
	next := make(map[string]net.IP, len(groups))
	for _, g := range groups {
		next[g.String()] = g
	}
	var added, removed []net.IP
	for k, g := range next {
		if _, ok := s.groups[k]; !ok {
			added = append(added, g)
		}
	}
	for k, g := range s.groups {
		if _, ok := next[k]; !ok {
			removed = append(removed, g)
		}
	}
	s.groups = next
	s.mu.Unlock()

	for _, g := range added {
		s.sendJoinPrune([]net.IP{g}, true)
	}
	for _, g := range removed {
		s.sendJoinPrune([]net.IP{g}, false)
	}
	return nil
}

func (s *PIMServer) Close() error {
	s.done <- struct{}{}
	s.wg.Wait()
	return nil
}

func (s *PIMServer) sendHello() {
	buf, err := constructHelloMessage()
	if err != nil {
		slog.Error("failed to serialize PIM hello msg", "error", err)
		return
	}
	if err := sendMsg(buf, s.intf, s.conn); err != nil {
		slog.Error("failed to send PIM hello msg", "error", err)
	}
}

func (s *PIMServer) sendJoinPrune(groups []net.IP, join bool) {
	if join {
		s.sendJoinPruneWithHoldtime(groups, true, joinPruneHoldtime)
	} else {
		s.sendJoinPruneWithHoldtime(groups, false, pruneHoldtime)
	}
}

func (s *PIMServer) sendJoinPruneWithHoldtime(groups []net.IP, join bool, holdtime time.Duration) {
	if len(groups) == 0 {
		return
	}
	var joinSrc, pruneSrc net.IP
	if join {
		joinSrc = RpAddress
	} else {
		pruneSrc = RpAddress
	}
	buf, err := constructJoinPruneMessage(s.tunnel, groups, joinSrc, pruneSrc, holdtime)
	if err != nil {
		slog.Error("failed to serialize PIM join/prune msg", "error", err)
		return
	}
	if err := sendMsg(buf, s.intf, s.conn); err != nil {
		slog.Error("failed to send PIM join/prune msg", "error", err)
	}
}

func constructHelloMessage() (gopacket.SerializeBuffer, error) {
	opts := gopacket.SerializeOptions{}
	buf := gopacket.NewSerializeBuffer()

	helloMsg := &HelloMessage{
		Holdtime:     uint16(helloHoldtime.Seconds()),
		DRPriority:   helloDRPriority,
		GenerationID: helloGenerationID,
	}
	if err := helloMsg.SerializeTo(buf, opts); err != nil {
		return nil, err
	}
	pimHeader := &PIMMessage{
		Header: PIMHeader{
			Version: 2,
			Type:    Hello,
		},
	}
	if err := pimHeader.SerializeTo(buf, opts); err != nil {
		return nil, err
	}
	return buf, nil
}

// constructJoinPruneMessage builds a single-group-list Join/Prune message
// towards upstreamNeighbor. One of joinSourceAddress/pruneSourceAddress is
// set per call; the other is nil.
func constructJoinPruneMessage(upstreamNeighbor net.IP, multicastGroupAddresses []net.IP, joinSourceAddress, pruneSourceAddress net.IP, holdtime time.Duration) (gopacket.SerializeBuffer, error) {
	opts := gopacket.SerializeOptions{}
	buf := gopacket.NewSerializeBuffer()
	groups := constructGroups(multicastGroupAddresses, joinSourceAddress, pruneSourceAddress)

	join := &JoinPruneMessage{
		UpstreamNeighborAddress: upstreamNeighbor,
		NumGroups:               uint8(len(groups)),
		Reserved:                0,
		Holdtime:                uint16(holdtime.Seconds()),
		Groups:                  groups,
	}
	if err := join.SerializeTo(buf, opts); err != nil {
		return nil, err
	}

	pimHeader := &PIMMessage{
		Header: PIMHeader{
			Version: 2,
			Type:    JoinPrune,
		},
	}
	if err := pimHeader.SerializeTo(buf, opts); err != nil {
		return nil, err
	}

	return buf, nil
}

func sendMsg(buf gopacket.SerializeBuffer, intf *net.Interface, r RawConner) error {
	allPIMRouters := net.IPAddr{IP: net.IPv4(224, 0, 0, 13)}
	iph := &ipv4.Header{
		Version:  4,
		Len:      20,
		TTL:      1,
		Protocol: 103,
		Dst:      allPIMRouters.IP,
		TotalLen: ipv4.HeaderLen + len(buf.Bytes()),
	}
	cm := &ipv4.ControlMessage{
		IfIndex: intf.Index,
	}

	b := buf.Bytes()
	binary.BigEndian.PutUint16(b[2:4], 0)
	checksum := Checksum(b)
	binary.BigEndian.PutUint16(b[2:4], checksum)
	return r.WriteTo(iph, b, cm)
}

func constructGroups(ips []net.IP, joinSourceAddress, pruneSourceAddress net.IP) []Group {
	joins := constructSourceAddress(joinSourceAddress)
	prunes := constructSourceAddress(pruneSourceAddress)
	groups := make([]Group, len(ips))
	for i, ip := range ips {
		groups[i] = Group{
			GroupID:               uint8(i),
			AddressFamily:         1,
			NumJoinedSources:      uint16(len(joins)),
			NumPrunedSources:      uint16(len(prunes)),
			MaskLength:            32,
			MulticastGroupAddress: ip,
			Joins:                 joins,
			Prunes:                prunes,
		}
	}
	return groups
}

func constructSourceAddress(ip net.IP) []SourceAddress {
	if ip == nil {
		return []SourceAddress{}
	}
	return []SourceAddress{{
		AddressFamily: 1,
		Flags:         RPTreeBit | SparseBit | WildCardBit,
		MaskLength:    32,
		EncodingType:  0,
		Address:       ip,
	}}
}
