package transport

import (
	"errors"
	"fmt"
)

// PacketType identifies a discovery datagram sent on a UDP socket.
//
// The UDP socket multiplexes QUIC and discovery traffic; any datagram whose
// first byte has both of its top two bits clear is not QUIC, so every
// PacketType must stay below 0x40.
type PacketType byte

const (
	// Announcement packet types
	PacketAnnounce PacketType = iota + 1
	PacketUnannounce
	PacketAnnounceAck

	// Lookup packet types
	PacketLookup
	PacketPeers

	// Hole punching packet types
	PacketHolepunch
	PacketHolepunchRelay
	PacketPunch
	PacketPunchAck

	// maxPacketType is the first value that could be taken for QUIC.
	maxPacketType PacketType = 0x40
)

var errPacketTooShort = errors.New("packet too short")

// Packet is a discovery datagram.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}
	if p.PacketType == 0 || p.PacketType >= maxPacketType {
		return nil, fmt.Errorf("packet type %#x outside the discovery range", byte(p.PacketType))
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errPacketTooShort
	}

	packetType := PacketType(data[0])
	if packetType == 0 || packetType >= maxPacketType {
		return nil, fmt.Errorf("packet type %#x outside the discovery range", data[0])
	}

	packet := &Packet{
		PacketType: packetType,
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}
