package discovery

import (
	"encoding/binary"
	"errors"
	"net"
	"strconv"
)

const (
	topicSize = 32
	// addrSize is a 16-byte IP followed by a big-endian port.
	addrSize = 18
	// maxPeersPerReply keeps a peers reply well below common path MTUs.
	maxPeersPerReply = 32
)

var errShortPacket = errors.New("discovery packet too short")

func encodeAddr(dst []byte, ip net.IP, port int) {
	copy(dst[:16], ip.To16())
	binary.BigEndian.PutUint16(dst[16:18], uint16(port))
}

func decodeAddr(src []byte) (net.IP, int) {
	ip := make(net.IP, 16)
	copy(ip, src[:16])
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip, int(binary.BigEndian.Uint16(src[16:18]))
}

// encodeTopicPort builds an Announce or Unannounce body.
func encodeTopicPort(topic [32]byte, port int) []byte {
	data := make([]byte, topicSize+2)
	copy(data, topic[:])
	binary.BigEndian.PutUint16(data[topicSize:], uint16(port))
	return data
}

func decodeTopicPort(data []byte) ([32]byte, int, error) {
	var topic [32]byte
	if len(data) < topicSize+2 {
		return topic, 0, errShortPacket
	}
	copy(topic[:], data)
	return topic, int(binary.BigEndian.Uint16(data[topicSize:])), nil
}

func decodeTopic(data []byte) ([32]byte, error) {
	var topic [32]byte
	if len(data) < topicSize {
		return topic, errShortPacket
	}
	copy(topic[:], data)
	return topic, nil
}

// encodePeers builds a Peers body: the topic followed by addresses.
func encodePeers(topic [32]byte, addrs []*net.UDPAddr) []byte {
	if len(addrs) > maxPeersPerReply {
		addrs = addrs[:maxPeersPerReply]
	}
	data := make([]byte, topicSize+len(addrs)*addrSize)
	copy(data, topic[:])
	for i, addr := range addrs {
		encodeAddr(data[topicSize+i*addrSize:], addr.IP, addr.Port)
	}
	return data
}

func decodePeers(data []byte) ([32]byte, []*net.UDPAddr, error) {
	topic, err := decodeTopic(data)
	if err != nil {
		return topic, nil, err
	}

	body := data[topicSize:]
	if len(body)%addrSize != 0 {
		return topic, nil, errShortPacket
	}

	addrs := make([]*net.UDPAddr, 0, len(body)/addrSize)
	for len(body) > 0 {
		ip, port := decodeAddr(body)
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: port})
		body = body[addrSize:]
	}
	return topic, addrs, nil
}

func encodeUDPAddr(addr *net.UDPAddr) []byte {
	data := make([]byte, addrSize)
	encodeAddr(data, addr.IP, addr.Port)
	return data
}

func decodeUDPAddr(data []byte) (*net.UDPAddr, error) {
	if len(data) < addrSize {
		return nil, errShortPacket
	}
	ip, port := decodeAddr(data)
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// addrKey normalizes an address so IPv4 and IPv4-mapped IPv6 forms of
// the same endpoint compare equal.
func addrKey(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return net.JoinHostPort(udp.IP.String(), strconv.Itoa(udp.Port))
	}
	return addr.String()
}

func toUDPAddr(addr net.Addr) (*net.UDPAddr, bool) {
	udp, ok := addr.(*net.UDPAddr)
	return udp, ok
}
