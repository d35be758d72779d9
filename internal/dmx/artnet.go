package dmx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ArtNetPort is the UDP port every Art-Net node listens on.
const ArtNetPort = 6454

var artNetID = []byte("Art-Net\x00")

// ArtNet sends ArtDMX packets over UDP, optionally followed by ArtSync so
// nodes latch every universe of a frame together.
type ArtNet struct {
	conn *net.UDPConn
	dest *net.UDPAddr
	sync bool
	seq  uint8
}

// DialArtNet opens a socket sending to addr, which is a host or host:port.
// An empty addr broadcasts on the local network.
func DialArtNet(addr string, sync bool) (*ArtNet, error) {
	dest, err := resolveArtNet(addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("artnet socket: %w", err)
	}
	return &ArtNet{conn: conn, dest: dest, sync: sync, seq: 1}, nil
}

func resolveArtNet(addr string) (*net.UDPAddr, error) {
	if addr == "" {
		return &net.UDPAddr{IP: BroadcastAddr(), Port: ArtNetPort}, nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(ArtNetPort))
	}
	dest, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("artnet address %q: %w", addr, err)
	}
	return dest, nil
}

// Dest is where packets are sent.
func (a *ArtNet) Dest() *net.UDPAddr { return a.dest }

func (a *ArtNet) SendFrame(universe int, data []byte) error {
	if len(data) > UniverseSize {
		return errors.New("dmx length must be <= 512")
	}
	if universe < 0 || universe > 0x7FFF {
		return fmt.Errorf("artnet universe %d out of range", universe)
	}
	packet := BuildArtDMX(a.seq, uint16(universe), data)
	// Zero disables sequencing on the receiver.
	a.seq++
	if a.seq == 0 {
		a.seq = 1
	}
	_, err := a.conn.WriteToUDP(packet, a.dest)
	return err
}

// Flush sends ArtSync when enabled.
func (a *ArtNet) Flush() error {
	if !a.sync {
		return nil
	}
	_, err := a.conn.WriteToUDP(ArtSync(), a.dest)
	return err
}

func (a *ArtNet) Close() error {
	return a.conn.Close()
}

// BuildArtDMX constructs an ArtDMX packet. Art-Net requires an even data
// length of at least 2, so the payload is padded when needed.
func BuildArtDMX(seq uint8, universe uint16, payload []byte) []byte {
	n := len(payload)
	if n < 2 {
		n = 2
	}
	n += n % 2
	packet := make([]byte, 18+n)
	copy(packet[0:], artNetID)
	packet[8], packet[9] = 0x00, 0x50 // OpDmx, little endian
	packet[10], packet[11] = 0x00, 14
	packet[12], packet[13] = seq, 0x00
	packet[14], packet[15] = byte(universe&0xFF), byte((universe>>8)&0x7F)
	packet[16], packet[17] = byte(n>>8), byte(n)
	copy(packet[18:], payload)
	return packet
}

// ArtSync returns an ArtSync packet.
func ArtSync() []byte {
	return []byte("Art-Net\x00\x00\x52\x00\x0e\x00\x00")
}

// ArtPoll returns an ArtPoll packet asking nodes to reply.
func ArtPoll() []byte {
	pkt := make([]byte, 14)
	copy(pkt, artNetID)
	pkt[8], pkt[9] = 0x00, 0x20
	pkt[10], pkt[11] = 0x00, 14
	pkt[12] = 0x06 // reply on change, send diagnostics
	pkt[13] = 0x00
	return pkt
}

// Node is an Art-Net device that answered a poll.
type Node struct {
	Name string
	IP   net.IP
}

// parsePollReply returns the short name from an ArtPollReply.
func parsePollReply(buf []byte) (string, bool) {
	if len(buf) < 44 || string(buf[0:7]) != "Art-Net" || buf[8] != 0x00 || buf[9] != 0x21 {
		return "", false
	}
	name := buf[26:44]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}
	return string(name), true
}

// Poll broadcasts an ArtPoll and collects replies until ctx is done. It
// needs the Art-Net port to be free locally.
func Poll(ctx context.Context, bcast net.IP) ([]Node, error) {
	if bcast == nil {
		bcast = BroadcastAddr()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: ArtNetPort})
	if err != nil {
		return nil, fmt.Errorf("listen on %d: %w", ArtNetPort, err)
	}
	defer conn.Close()
	return poll(ctx, conn, &net.UDPAddr{IP: bcast, Port: ArtNetPort})
}

func poll(ctx context.Context, conn *net.UDPConn, dest *net.UDPAddr) ([]Node, error) {
	if _, err := conn.WriteToUDP(ArtPoll(), dest); err != nil {
		return nil, fmt.Errorf("send ArtPoll: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var nodes []Node
	seen := make(map[string]bool)
	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nodes, nil
			}
			return nodes, err
		}
		name, ok := parsePollReply(buf[:n])
		if !ok || seen[addr.IP.String()] {
			continue
		}
		seen[addr.IP.String()] = true
		nodes = append(nodes, Node{Name: name, IP: addr.IP})
	}
}

// BroadcastAddr picks the directed broadcast address of the first usable
// IPv4 interface, preferring 192.168.* networks. It falls back to the
// limited broadcast address.
func BroadcastAddr() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return net.IPv4bcast
	}
	var first net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			bcast := broadcastOf(ipnet)
			if bcast == nil {
				continue
			}
			if strings.HasPrefix(ipnet.IP.String(), "192.168.") {
				return bcast
			}
			if first == nil {
				first = bcast
			}
		}
	}
	if first != nil {
		return first
	}
	return net.IPv4bcast
}

func broadcastOf(ipnet *net.IPNet) net.IP {
	ip := ipnet.IP.To4()
	mask := ipnet.Mask
	if ip == nil {
		return nil
	}
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}
